package secret

import (
	"errors"
	"strings"
	"testing"
)

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("CALLGATE_TEST_HOST", "api.example.com")
	t.Setenv("CALLGATE_TEST_EMPTY", "")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"braced", "https://${CALLGATE_TEST_HOST}/v1", "https://api.example.com/v1"},
		{"bare", "$CALLGATE_TEST_HOST", "api.example.com"},
		{"bare missing is empty", "x$CALLGATE_TEST_NOPE", "x"},
		{"set but empty", "[${CALLGATE_TEST_EMPTY}]", "[]"},
		{"dollar escape", "$$${CALLGATE_TEST_HOST}", "$api.example.com"},
		{"plain", "no vars", "no vars"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnvStrict(tt.in)
			if err != nil {
				t.Fatalf("ExpandEnvStrict() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnvStrict(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandEnvStrict_Missing(t *testing.T) {
	_, err := ExpandEnvStrict("${CALLGATE_TEST_B} ${CALLGATE_TEST_A} ${CALLGATE_TEST_B}")
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("error = %v, want ErrMissingEnv", err)
	}
	if !strings.HasSuffix(err.Error(), "CALLGATE_TEST_A, CALLGATE_TEST_B") {
		t.Errorf("error = %q, want sorted unique names", err)
	}
}

func TestExpandStrict_Lookup(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "MODEL" {
			return "gpt-4o-mini", true
		}
		return "", false
	}
	got, err := ExpandStrict("model=${MODEL}", lookup)
	if err != nil || got != "model=gpt-4o-mini" {
		t.Errorf("ExpandStrict() = %q, %v", got, err)
	}
}
