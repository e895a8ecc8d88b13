package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		name     string
		domain   string
		expected error
	}{
		{"Valid domain", "temp.mail", nil},
		{"Valid subdomain", "mx.temp.mail", nil},
		{"Valid single label", "localhost", nil},
		{"Valid with dash", "my-domain.com", nil},
		{"Invalid - empty", "", ErrInvalidDomain},
		{"Invalid - leading dot", ".temp.mail", ErrInvalidDomain},
		{"Invalid - double dot", "temp..mail", ErrInvalidDomain},
		{"Invalid - spaces", "temp mail", ErrInvalidDomain},
		{"Invalid - leading dash", "-temp.mail", ErrInvalidDomain},
		{"Invalid - trailing dash", "temp-.mail", ErrInvalidDomain},
		{"Invalid - too long", strings.Repeat("a.", 127) + "com", ErrDomainTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateDomain(tt.domain))
		})
	}
}

func TestParseRecipient(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		err      error
	}{
		{"Plain address", "alice@temp.mail", "alice@temp.mail", nil},
		{"Angle brackets", "<alice@temp.mail>", "alice@temp.mail", nil},
		{"Upper case", " Alice@Temp.Mail ", "alice@temp.mail", nil},
		{"Dots in local part", "first.last@temp.mail", "first.last@temp.mail", nil},
		{"Reserved name still parses", "admin@temp.mail", "admin@temp.mail", nil},
		{"Empty", "", "", ErrInvalidEmail},
		{"No at sign", "alice", "", ErrInvalidEmail},
		{"No local part", "@temp.mail", "", ErrInvalidEmail},
		{"Bad domain", "alice@temp..mail", "", ErrInvalidEmail},
		{"Too long", strings.Repeat("a", 250) + "@temp.mail", "", ErrEmailTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecipient(tt.input)
			if tt.err != nil {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
