package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ada@example.org", Normalize("  Ada@Example.ORG "))
	assert.Equal(t, "", Normalize("   "))
}

func TestValid(t *testing.T) {
	valid := []string{
		"ada@example.org",
		"first.last+tag@mail.example.com",
	}
	invalid := []string{
		"",
		"no-at-sign",
		"Ada <ada@example.org>",
		"ada@localhost",
		strings.Repeat("a", 250) + "@x.io",
	}
	for _, input := range valid {
		assert.True(t, Valid(input), "input %q", input)
	}
	for _, input := range invalid {
		assert.False(t, Valid(input), "input %q", input)
	}
}
