package cache

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{"valid", "callgate:chat.completions:0123abcd", nil},
		{"empty", "", ErrInvalidKey},
		{"blank", "   ", ErrInvalidKey},
		{"newline", "a\nb", ErrInvalidKey},
		{"carriage return", "a\rb", ErrInvalidKey},
		{"at limit", strings.Repeat("k", MaxKeyLength), nil},
		{"over limit", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); !errors.Is(err, tt.want) {
				t.Errorf("ValidateKey() = %v, want %v", err, tt.want)
			}
		})
	}
}
