package models

import "strings"

const keyPrefix = "ballotbox:rl:"

// SanitizeKeySegment escapes the key delimiter so a crafted identifier cannot
// address another bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewIPRateLimitKey names the bucket for ip on route.
func NewIPRateLimitKey(route, ip string) string {
	return keyPrefix + SanitizeKeySegment(route) + ":ip:" + SanitizeKeySegment(ip)
}
