// Package media stores uploaded files in the backend's object storage.
package media

import (
	"context"
	"io"
	"net/url"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/soapboxsocial/glimpse/pkg/conf"
	httputil "github.com/soapboxsocial/glimpse/pkg/http"
)

// UploadOptions describe how an object is stored.
type UploadOptions struct {
	ContentType string

	// Upsert replaces an existing object at the same path.
	Upsert bool
}

type Backend struct {
	url     string
	anonKey string
}

func NewBackend(config conf.BackendConf) *Backend {
	return &Backend{
		url:     strings.TrimSuffix(config.URL, "/") + "/storage/v1",
		anonKey: config.AnonKey,
	}
}

func (b *Backend) client(ctx context.Context) *storage_go.Client {
	token := b.anonKey
	if t, ok := httputil.GetAccessTokenFromContext(ctx); ok {
		token = t
	}

	return storage_go.NewClient(b.url, token, map[string]string{"apikey": b.anonKey})
}

// Upload stores the contents of r at path in bucket and returns its public url.
// Failures are *rest.Error values.
func (b *Backend) Upload(ctx context.Context, bucket, path string, r io.Reader, opts UploadOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", translate(ctx, err)
	}

	fo := storage_go.FileOptions{Upsert: &opts.Upsert}
	if opts.ContentType != "" {
		fo.ContentType = &opts.ContentType
	}

	_, err := b.client(ctx).UploadFile(bucket, path, r, fo)
	if err != nil {
		return "", translate(ctx, err)
	}

	return b.PublicURL(bucket, path), nil
}

// PublicURL returns the public url of the object at path in bucket.
func (b *Backend) PublicURL(bucket, path string) string {
	return storage_go.NewClient(b.url, b.anonKey, nil).GetPublicUrl(bucket, path).SignedURL
}

// Remove deletes objects from bucket, paths that do not exist are ignored.
func (b *Backend) Remove(ctx context.Context, bucket string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}

	_, err := b.client(ctx).RemoveFile(bucket, paths)
	return translate(ctx, err)
}

// PathFromURL returns the object path inside bucket that a public url refers to.
func (b *Backend) PathFromURL(bucket, publicURL string) (string, bool) {
	prefix := b.url + "/object/public/" + bucket + "/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", false
	}

	p, err := url.PathUnescape(strings.TrimPrefix(publicURL, prefix))
	if err != nil || p == "" {
		return "", false
	}

	return p, true
}
