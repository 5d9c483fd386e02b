package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesProviderAndMetadata(t *testing.T) {
	err := New(
		"kraken",
		CodeParse,
		WithHTTP(200),
		WithMessage("unexpected channel payload"),
		WithField("channel", "ticker"),
		WithField("symbol", "XBT/USD"),
		WithCause(errors.New("json: cannot unmarshal")),
	)

	out := err.Error()
	if !strings.Contains(out, "provider=kraken") {
		t.Fatalf("expected provider marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=parse") {
		t.Fatalf("expected code in error string: %s", out)
	}
	expectedMeta := `meta=channel="ticker",symbol="XBT/USD"`
	if !strings.Contains(out, expectedMeta) {
		t.Fatalf("expected metadata %q in error string: %s", expectedMeta, out)
	}
	if !strings.Contains(out, `cause="json: cannot unmarshal"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("okx", CodeNetwork, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the cause")
	}
}

func TestCodeOfTraversesWrappedErrors(t *testing.T) {
	inner := New("", CodeConflict, WithMessage("duplicate delivery"))
	wrapped := fmt.Errorf("claim delivery: %w", inner)
	if got := CodeOf(wrapped); got != CodeConflict {
		t.Fatalf("CodeOf() = %q, want %q", got, CodeConflict)
	}
	if !IsConflict(wrapped) {
		t.Fatalf("IsConflict() = false, want true")
	}
}

func TestCodeOfUnknownError(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain error) = %q, want empty", got)
	}
	if IsNotFound(errors.New("plain")) {
		t.Fatalf("IsNotFound(plain error) = true, want false")
	}
}
