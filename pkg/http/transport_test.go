package http_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httputil "github.com/soapboxsocial/glimpse/pkg/http"
)

func TestContextTransport_Query(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("redirect_to")
	}))
	defer server.Close()

	client := &http.Client{Transport: &httputil.ContextTransport{
		Context: context.Background(),
		Query:   map[string]string{"redirect_to": "http://localhost:3000/callback"},
	}}

	req, err := http.NewRequest(http.MethodGet, server.URL+"/signup?a=b", nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if got != "http://localhost:3000/callback" {
		t.Fatalf("unexpected redirect_to %q", got)
	}

	if req.URL.RawQuery != "a=b" {
		t.Fatalf("request url was modified: %s", req.URL.RawQuery)
	}
}

func TestContextTransport_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))

	defer server.Close()
	defer close(release)

	tests := []struct {
		name    string
		ctx     func() (context.Context, context.CancelFunc)
		timeout time.Duration
	}{
		{
			name: "context deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
		},
		{
			name: "default timeout",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.Background(), func() {}
			},
			timeout: 50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := tt.ctx()
			defer cancel()

			client := &http.Client{Transport: &httputil.ContextTransport{Context: ctx, Timeout: tt.timeout}}

			start := time.Now()
			_, err := client.Get(server.URL)
			if err == nil {
				t.Fatal("expected an error")
			}

			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected deadline exceeded, got %v", err)
			}

			if time.Since(start) > time.Second {
				t.Fatalf("request was not bounded, took %s", time.Since(start))
			}
		})
	}
}
