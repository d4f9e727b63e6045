package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesCanonical(t *testing.T) {
	err := New(
		"cardpay",
		CodeInvalid,
		WithHTTP(400),
		WithMessage("amount does not match order"),
		WithCanonicalCode(CanonicalAmountMismatch),
		WithCause(errors.New("expected 3000 got 2900")),
	)

	out := err.Error()
	if !strings.Contains(out, "provider=cardpay") {
		t.Fatalf("expected provider marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=invalid_request") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "canonical=amount_mismatch") {
		t.Fatalf("expected canonical classification in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"expected 3000 got 2900\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithCanonicalCodeEmptyDefaultsToUnknown(t *testing.T) {
	err := New("cardpay", CodeInvalid, WithCanonicalCode("   "))
	if err.Canonical != CanonicalUnknown {
		t.Fatalf("expected canonical code to default to unknown, got %q", err.Canonical)
	}
	if strings.Contains(err.Error(), "canonical=") {
		t.Fatalf("canonical marker should be omitted when code is unknown: %s", err.Error())
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := New("cryptopay", CodeGateway, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match wrapped cause")
	}
}

func TestStatusFallsBackPerCode(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeNotFound, 404},
		{CodeInvalid, 400},
		{CodeUnsupportedMethod, 400},
		{CodeAuth, 401},
		{CodeConflict, 409},
		{CodeGatewayUnavailable, 503},
		{CodeGateway, 500},
	}
	for _, tc := range cases {
		if got := New("", tc.code).Status(); got != tc.want {
			t.Fatalf("status for %s: expected %d, got %d", tc.code, tc.want, got)
		}
	}
	if got := New("", CodeGateway, WithHTTP(502)).Status(); got != 502 {
		t.Fatalf("explicit HTTP status should win, got %d", got)
	}
}
