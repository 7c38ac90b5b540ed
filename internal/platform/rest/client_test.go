package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iamwavecut/warden/internal/platform"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token")
}

func TestResourceExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("alive", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"exists":true}`))
		})
		exists, err := c.ResourceExists(ctx, platform.ResourceChannel, "c1")
		if err != nil {
			t.Fatalf("exists: %v", err)
		}
		if !exists {
			t.Error("want exists true")
		}
	})

	t.Run("gone", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		exists, err := c.ResourceExists(ctx, platform.ResourceChannel, "c1")
		if err != nil {
			t.Fatalf("a 404 is a definite answer, not an error: %v", err)
		}
		if exists {
			t.Error("want exists false on 404")
		}
	})

	t.Run("forbidden", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
		_, err := c.ResourceExists(ctx, platform.ResourceRole, "r1")
		if err == nil {
			t.Fatal("a 403 must surface as an error, not as a missing resource")
		}
		if !platform.IsPermanent(err) {
			t.Errorf("want permanent adapter error, got %v", err)
		}
	})
}

func TestDoClassifiesStatuses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, tc := range []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			})
			err := c.SendMessage(ctx, "c1", "hi")
			if err == nil {
				t.Fatal("want an error")
			}
			if got := platform.IsTransient(err); got != tc.transient {
				t.Errorf("status %d: transient = %v, want %v", tc.status, got, tc.transient)
			}
		})
	}
}
