// Package e2e drives a running ballotbox server through its HTTP API with
// godog scenarios. Point E2E_BASE_URL at a server started with
// ADMIN_API_TOKEN and pass the same token in E2E_ADMIN_TOKEN. Voters are
// told apart by X-Forwarded-For, so the runner must reach the server over
// loopback or from an address listed in its TRUSTED_PROXIES.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext carries one scenario's HTTP state: the last response and the
// ids saved by earlier steps.
type TestContext struct {
	BaseURL    string
	AdminToken string
	HTTPClient *http.Client

	lastStatus int
	lastBody   []byte
	saved      map[string]string
}

func NewTestContext(baseURL, adminToken string) *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		saved:      make(map[string]string),
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.saved = make(map[string]string)
}

func (tc *TestContext) Do(method, path string, body interface{}, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.BaseURL+tc.Expand(path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.lastStatus = resp.StatusCode
	return nil
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.Do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) POST(path string, body interface{}, headers map[string]string) error {
	return tc.Do(http.MethodPost, path, body, headers)
}

// AdminHeaders authenticates a request with the static admin token.
func (tc *TestContext) AdminHeaders() map[string]string {
	return map[string]string{"X-Admin-Token": tc.AdminToken}
}

func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }

func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }

// GetResponseField reads a top-level field of the last JSON object response.
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(tc.lastBody, &obj); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %s", tc.lastBody)
	}
	v, ok := obj[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response: %s", field, tc.lastBody)
	}
	return v, nil
}

func (tc *TestContext) Save(name, value string) { tc.saved[name] = value }

func (tc *TestContext) Saved(name string) (string, error) {
	v, ok := tc.saved[name]
	if !ok {
		return "", fmt.Errorf("nothing saved as %q", name)
	}
	return v, nil
}

// Expand replaces {name} placeholders in path with saved values.
func (tc *TestContext) Expand(path string) string {
	for k, v := range tc.saved {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	return path
}
