package entitlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubVerifier struct {
	premium bool
	err     error
	calls   int
}

func (s *stubVerifier) VerifyPremium(context.Context, string, string) (bool, error) {
	s.calls++
	return s.premium, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		claimed     bool
		token       string
		wantPremium bool
	}{
		{
			name:        "bypass wins regardless of claim",
			cfg:         Config{Bypass: true},
			claimed:     false,
			token:       "",
			wantPremium: true,
		},
		{
			name:        "bypass wins over bad token",
			cfg:         Config{Bypass: true, APIKey: "secret"},
			claimed:     true,
			token:       "wrong",
			wantPremium: true,
		},
		{
			name:        "unclaimed is free even with valid token",
			cfg:         Config{APIKey: "secret"},
			claimed:     false,
			token:       "secret",
			wantPremium: false,
		},
		{
			name:        "claimed with matching static key",
			cfg:         Config{APIKey: "secret"},
			claimed:     true,
			token:       "secret",
			wantPremium: true,
		},
		{
			name:        "claimed with wrong token and no endpoint",
			cfg:         Config{APIKey: "secret"},
			claimed:     true,
			token:       "wrong",
			wantPremium: false,
		},
		{
			name:        "claimed with no token and no key",
			cfg:         Config{},
			claimed:     true,
			token:       "",
			wantPremium: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(tc.cfg, nil, discardLogger())
			got := r.Resolve(context.Background(), "user-1", tc.claimed, tc.token)
			if got.Premium != tc.wantPremium {
				t.Fatalf("premium = %v, want %v (reason %q)", got.Premium, tc.wantPremium, got.Reason)
			}
		})
	}
}

func TestResolveUnclaimedSkipsVerifier(t *testing.T) {
	verifier := &stubVerifier{premium: true}
	r := NewResolver(Config{VerifyEndpoint: "https://premium.example"}, verifier, discardLogger())

	got := r.Resolve(context.Background(), "user-1", false, "anything")
	if got.Premium {
		t.Fatal("unclaimed request must stay free")
	}
	if verifier.calls != 0 {
		t.Fatalf("verifier consulted %d times for an unclaimed request", verifier.calls)
	}
}

func TestResolveDelegatesToVerifier(t *testing.T) {
	verifier := &stubVerifier{premium: true}
	r := NewResolver(Config{VerifyEndpoint: "https://premium.example"}, verifier, discardLogger())

	got := r.Resolve(context.Background(), "user-1", true, "token")
	if !got.Premium {
		t.Fatalf("expected premium verdict, got reason %q", got.Reason)
	}
	if verifier.calls != 1 {
		t.Fatalf("verifier calls = %d, want 1", verifier.calls)
	}
}

func TestResolveFailsClosedOnVerifierError(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("endpoint down")}
	r := NewResolver(Config{VerifyEndpoint: "https://premium.example"}, verifier, discardLogger())

	got := r.Resolve(context.Background(), "user-1", true, "token")
	if got.Premium {
		t.Fatal("verifier errors must resolve to the free tier")
	}
	if got.Reason == "" {
		t.Fatal("fail-closed resolution should carry a reason")
	}
}

func TestResolveStaticKeyShortCircuitsVerifier(t *testing.T) {
	verifier := &stubVerifier{premium: false, err: errors.New("should not be called")}
	r := NewResolver(Config{APIKey: "secret", VerifyEndpoint: "https://premium.example"}, verifier, discardLogger())

	got := r.Resolve(context.Background(), "user-1", true, "secret")
	if !got.Premium {
		t.Fatalf("static key match must grant premium, got reason %q", got.Reason)
	}
	if verifier.calls != 0 {
		t.Fatalf("verifier calls = %d, want 0", verifier.calls)
	}
}

func TestHTTPVerifierVerdicts(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"premium": true}`))
	}))
	defer srv.Close()

	v, err := NewHTTPVerifier(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPVerifier: %v", err)
	}
	premium, err := v.VerifyPremium(context.Background(), "user-1", "tok")
	if err != nil {
		t.Fatalf("VerifyPremium: %v", err)
	}
	if !premium {
		t.Fatal("expected premium verdict")
	}
	for _, fragment := range []string{`"userId":"user-1"`, `"token":"tok"`} {
		if !strings.Contains(gotBody, fragment) {
			t.Fatalf("request body %q missing %q", gotBody, fragment)
		}
	}
}

func TestHTTPVerifierNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v, err := NewHTTPVerifier(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPVerifier: %v", err)
	}
	if _, err := v.VerifyPremium(context.Background(), "user-1", "tok"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
