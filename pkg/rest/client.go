// Package rest is the transport under every collection backend.
// It authorizes each request as the caller whose access token travels on the context.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"

	"github.com/soapboxsocial/glimpse/pkg/conf"
	httputil "github.com/soapboxsocial/glimpse/pkg/http"
)

const schema = "public"

// DefaultTimeout bounds a request whose context carries no deadline.
const DefaultTimeout = 30 * time.Second

// Filter is an equality condition on a column.
type Filter struct {
	Column string
	Value  string
}

func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// Page selects a window of an ordered result. A zero Limit selects everything.
type Page struct {
	Limit  int
	Offset int
}

type Client struct {
	url     string
	anonKey string

	// Timeout applies to requests whose context has no deadline, zero disables it.
	Timeout time.Duration

	transport http.RoundTripper
}

func NewClient(config conf.BackendConf) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(config.URL, "/") + "/rest/v1")
	if err != nil {
		return nil, err
	}

	return &Client{
		url:       base.String(),
		anonKey:   config.AnonKey,
		Timeout:   DefaultTimeout,
		transport: http.DefaultTransport,
	}, nil
}

// From starts a request on table.
func (c *Client) From(ctx context.Context, table string) *postgrest.QueryBuilder {
	token := c.anonKey
	if t, ok := httputil.GetAccessTokenFromContext(ctx); ok {
		token = t
	}

	client := postgrest.NewClient(c.url, schema, map[string]string{
		"apikey":        c.anonKey,
		"Authorization": "Bearer " + token,
	})

	client.Transport.Parent = &httputil.ContextTransport{Context: ctx, Parent: c.transport, Timeout: c.Timeout}

	return client.From(table)
}

// Exec runs the request and returns the raw body and the exact count if one was requested.
func Exec(ctx context.Context, b *postgrest.FilterBuilder) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, &Error{Kind: KindTransport, Message: err.Error(), Err: err}
	}

	data, count, err := b.Execute()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, &Error{Kind: KindTransport, Message: ctxErr.Error(), Err: ctxErr}
		}

		return nil, 0, translate(err)
	}

	return data, count, nil
}

// First runs a request returning an array and decodes its first element, ErrNotFound if it is empty.
func First(ctx context.Context, b *postgrest.FilterBuilder, to interface{}) error {
	data, _, err := Exec(ctx, b)
	if err != nil {
		return err
	}

	var rows []json.RawMessage
	err = json.Unmarshal(data, &rows)
	if err != nil {
		return malformed(err)
	}

	if len(rows) == 0 {
		return ErrNotFound
	}

	err = json.Unmarshal(rows[0], to)
	if err != nil {
		return malformed(err)
	}

	return nil
}

// Count returns the exact number of rows in table matching filters.
func (c *Client) Count(ctx context.Context, table string, filters ...Filter) (int64, error) {
	b := c.From(ctx, table).Select("id", "exact", true)
	b = Where(b, filters...)

	_, count, err := Exec(ctx, b)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists reports whether table has at least one row matching filters.
func (c *Client) Exists(ctx context.Context, table string, filters ...Filter) (bool, error) {
	b := c.From(ctx, table).Select("id", "", false)
	b = Where(b, filters...).Limit(1, "")

	data, _, err := Exec(ctx, b)
	if err != nil {
		return false, err
	}

	var rows []json.RawMessage
	err = json.Unmarshal(data, &rows)
	if err != nil {
		return false, malformed(err)
	}

	return len(rows) > 0, nil
}

// Delete removes every row in table matching filters. Matching nothing is not an error.
func (c *Client) Delete(ctx context.Context, table string, filters ...Filter) error {
	b := Where(c.From(ctx, table).Delete("minimal", ""), filters...)

	_, _, err := Exec(ctx, b)
	return err
}

// Insert adds value to table and decodes the created row into to, if to is not nil.
func (c *Client) Insert(ctx context.Context, table string, value interface{}, to interface{}) error {
	b := c.From(ctx, table).Insert(value, false, "", "representation", "")

	if to == nil {
		_, _, err := Exec(ctx, b)
		return err
	}

	return First(ctx, b, to)
}

// Update patches the rows matching filters and decodes the first updated row into to, if to is not nil.
func (c *Client) Update(ctx context.Context, table string, values map[string]interface{}, to interface{}, filters ...Filter) error {
	b := Where(c.From(ctx, table).Update(values, "representation", ""), filters...)

	if to == nil {
		_, _, err := Exec(ctx, b)
		return err
	}

	return First(ctx, b, to)
}

// Where applies equality filters.
func Where(b *postgrest.FilterBuilder, filters ...Filter) *postgrest.FilterBuilder {
	for _, f := range filters {
		b = b.Eq(f.Column, f.Value)
	}

	return b
}

// Paginate applies page to b.
func Paginate(b *postgrest.FilterBuilder, page Page) *postgrest.FilterBuilder {
	if page.Limit <= 0 {
		return b
	}

	return b.Range(page.Offset, page.Offset+page.Limit-1, "")
}

// Newest orders by creation time, newest first.
func Newest(b *postgrest.FilterBuilder) *postgrest.FilterBuilder {
	return b.Order("created_at", &postgrest.OrderOpts{Ascending: false})
}
