package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadSecretFromPipe(t *testing.T) {
	var out bytes.Buffer
	got, err := ReadSecret(strings.NewReader("  sk-test-123 \n"), &out, "API key: ")
	if err != nil {
		t.Fatalf("ReadSecret() error = %v", err)
	}
	if got != "sk-test-123" {
		t.Errorf("ReadSecret() = %q", got)
	}
	if out.String() != "API key: " {
		t.Errorf("prompt = %q", out.String())
	}

	got, err = ReadSecret(strings.NewReader("no-newline"), &out, "")
	if err != nil || got != "no-newline" {
		t.Errorf("ReadSecret() = %q, %v", got, err)
	}
}

func TestReadSecretEmpty(t *testing.T) {
	_, err := ReadSecret(strings.NewReader("\n"), &bytes.Buffer{}, "API key: ")
	if !errors.Is(err, ErrEmptySecret) {
		t.Errorf("ReadSecret() error = %v, want ErrEmptySecret", err)
	}
}
