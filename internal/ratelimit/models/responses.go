package models

// RateLimitExceededResponse is the API response when a rate limit is exceeded.
type RateLimitExceededResponse struct {
	Error            string `json:"error"`
	Reason           string `json:"reason"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"` // seconds
}
