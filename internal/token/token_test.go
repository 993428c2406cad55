package token

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func issueJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"channel_id": "notetalk-waiting",
		"exp":        exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHTTPProviderFetchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	signed := issueJWT(t, time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("api_key") != "key-1" {
			t.Errorf("missing api_key, got query %q", r.URL.RawQuery)
		}
		if r.URL.Query().Get("channel_id") != "notetalk-waiting" {
			t.Errorf("missing channel_id, got query %q", r.URL.RawQuery)
		}
		fmt.Fprintf(w, `{"access_token":%q}`, signed)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key-1")

	tok, err := p.AccessToken(context.Background(), "notetalk-waiting")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if tok != signed {
		t.Fatal("token mangled in transit")
	}

	if _, err := p.AccessToken(context.Background(), "notetalk-waiting"); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 issuer call, got %d", got)
	}

	// A different channel misses the cache.
	if _, err := p.AccessToken(context.Background(), "notetalk-talking-1"); err != nil {
		t.Fatalf("second channel: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 issuer calls, got %d", got)
	}
}

func TestHTTPProviderRefreshesExpiredToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		// Expires inside the slack window, so it is stale immediately.
		fmt.Fprintf(w, `{"access_token":%q}`, issueJWT(t, time.Now().Add(10*time.Second)))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key-1")
	for i := 0; i < 2; i++ {
		if _, err := p.AccessToken(context.Background(), "ch"); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("stale token must be re-fetched, got %d calls", got)
	}
}

func TestHTTPProviderRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name string
		h    http.HandlerFunc
	}{
		{"empty token", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"access_token":""}`)
		}},
		{"error status", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}},
		{"not json", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "oops")
		}},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(tc.h)
		p := NewHTTPProvider(srv.URL, "key-1")
		if _, err := p.AccessToken(context.Background(), "ch"); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
		srv.Close()
	}
}

func TestLocalProviderMintsScopedToken(t *testing.T) {
	p := NewLocalProvider("key-1", "secret-1", "alice")

	tok, err := p.AccessToken(context.Background(), "notetalk-talking-1")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Fatalf("not a JWT: %q", tok)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if sub, _ := claims.GetSubject(); sub != "alice" {
		t.Fatalf("identity not carried, sub=%q", sub)
	}
}
