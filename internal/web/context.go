package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/bridgette/internal/core"
)

// WithRequestMetadata adds IP and User-Agent to context for submission history.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}

// clientIP returns the client address without its port. TrustedRealIP has
// already replaced RemoteAddr when the request came through a trusted proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
