// Package email normalizes voter email addresses so that the same mailbox
// always produces the same identity claim.
package email

import (
	"net/mail"
	"strings"
)

// MaxLength is the longest address accepted (RFC 5321 path limit).
const MaxLength = 254

// Normalize trims surrounding whitespace and lower-cases the address.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Valid reports whether address is a bare addr-spec ("a@b.c"), not a
// display-name form.
func Valid(address string) bool {
	if address == "" || len(address) > MaxLength {
		return false
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return false
	}
	if parsed.Address != address {
		return false
	}
	at := strings.LastIndexByte(address, '@')
	return at > 0 && strings.Contains(address[at+1:], ".")
}
