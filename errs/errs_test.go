package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorRendering(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("session/fetch-ticks", CodeNetwork,
		WithMessage("page fetch failed"),
		WithRawCode("1100"),
		WithCause(cause),
	)

	got := err.Error()
	for _, want := range []string{
		"op=session/fetch-ticks",
		"code=network",
		`message="page fetch failed"`,
		`raw_code="1100"`,
		`cause="connection reset"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New("bridge/subscribe", CodeVenue, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the cause")
	}
}

func TestCodeOfWalksChain(t *testing.T) {
	inner := New("directory/resolve", CodeInstrumentNotFound)
	wrapped := fmt.Errorf("resolve EUR/USD: %w", inner)

	if code := CodeOf(wrapped); code != CodeInstrumentNotFound {
		t.Fatalf("CodeOf() = %q, want %q", code, CodeInstrumentNotFound)
	}
	if code := CodeOf(errors.New("plain")); code != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", code)
	}
	if code := CodeOf(nil); code != "" {
		t.Fatalf("CodeOf(nil) = %q, want empty", code)
	}
}

func TestNilEnvelopeRendersPlaceholder(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("Error() = %q, want <nil>", got)
	}
}
