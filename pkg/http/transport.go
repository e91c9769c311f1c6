package http

import (
	"context"
	"io"
	"net/http"
	"time"
)

// ContextTransport sends every request under Context, for clients whose calls take no context.
// Timeout bounds requests when Context has no deadline, zero disables it.
type ContextTransport struct {
	Context context.Context
	Parent  http.RoundTripper
	Timeout time.Duration

	// Query is added to the url of every request.
	Query map[string]string
}

func (t *ContextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := t.Context, context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok && t.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
	}

	req = req.WithContext(ctx)
	if len(t.Query) > 0 {
		u := *req.URL
		q := u.Query()
		for k, v := range t.Query {
			q.Set(k, v)
		}

		u.RawQuery = q.Encode()
		req.URL = &u
	}

	parent := t.Parent
	if parent == nil {
		parent = http.DefaultTransport
	}

	resp, err := parent.RoundTrip(req)
	if err != nil {
		cancel()
		return nil, err
	}

	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
