package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"newscast/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "narrated", "synthesize", "tts failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"narrated", "synthesize", "tts failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestDetailsExtractsStageContext(t *testing.T) {
	err := fmt.Errorf("outer: %w", services.Wrap(services.ErrValidation, "scripted", "generate", "content rejected", nil))
	details := services.Details(err)
	if details.Kind != services.KindValidation {
		t.Fatalf("expected validation kind, got %q", details.Kind)
	}
	if details.Stage != "scripted" || details.Operation != "generate" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.Message != "content rejected" {
		t.Fatalf("unexpected message %q", details.Message)
	}

	plain := services.Details(errors.New("plain failure"))
	if plain.Message != "plain failure" || plain.Kind != services.KindTransient {
		t.Fatalf("unexpected plain details: %+v", plain)
	}
}

func TestClassifyMapping(t *testing.T) {
	cases := []struct {
		err       error
		kind      services.Kind
		retryable bool
		terminal  bool
	}{
		{services.Wrap(services.ErrTransient, "", "", "x", nil), services.KindTransient, true, false},
		{services.Wrap(services.ErrValidation, "", "", "x", nil), services.KindValidation, false, true},
		{services.Wrap(services.ErrConfiguration, "", "", "x", nil), services.KindConfiguration, false, true},
		{services.Wrap(services.ErrNotFound, "", "", "x", nil), services.KindNotFound, false, true},
		{services.Wrap(services.ErrTimeout, "", "", "x", nil), services.KindTimeout, false, false},
		{services.Wrap(services.ErrQuotaExceeded, "", "", "x", nil), services.KindQuota, false, false},
		{context.Canceled, services.KindCanceled, false, false},
		{errors.New("unknown"), services.KindTransient, true, false},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.kind {
			t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.kind)
		}
		if got := services.Retryable(tc.err); got != tc.retryable {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.retryable)
		}
		if got := services.Terminal(tc.err); got != tc.terminal {
			t.Fatalf("Terminal(%v) = %v, want %v", tc.err, got, tc.terminal)
		}
	}
}

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, "slow down", services.ErrTransient},
		{http.StatusTooManyRequests, `{"detail":{"status":"quota_exceeded"}}`, services.ErrQuotaExceeded},
		{http.StatusUnauthorized, `{"detail":{"status":"quota_exceeded"}}`, services.ErrQuotaExceeded},
		{http.StatusPaymentRequired, "", services.ErrQuotaExceeded},
		{http.StatusBadGateway, "", services.ErrTransient},
		{http.StatusRequestTimeout, "", services.ErrTransient},
		{http.StatusUnauthorized, "invalid key", services.ErrConfiguration},
		{http.StatusNotFound, "", services.ErrNotFound},
		{http.StatusGone, "", services.ErrNotFound},
		{http.StatusUnprocessableEntity, "bad media", services.ErrValidation},
		{http.StatusBadRequest, "", services.ErrValidation},
	}
	for _, tc := range cases {
		if got := services.ClassifyHTTP(tc.status, tc.body); !errors.Is(got, tc.want) {
			t.Fatalf("ClassifyHTTP(%d, %q) = %v, want %v", tc.status, tc.body, got, tc.want)
		}
	}
}
