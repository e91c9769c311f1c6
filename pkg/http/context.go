package http

import "context"

type key string

const accessToken key = "access_token"

// GetAccessTokenFromContext returns the access token stored in a context
func GetAccessTokenFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(accessToken)
	token, ok := val.(string)
	return token, ok && token != ""
}

// WithAccessToken stores an access token in the context
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessToken, token)
}
