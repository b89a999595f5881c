package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/csvmailer/internal/core"
)

// WithRequestMetadata stores the client IP and User-Agent for batch history.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	ctx = core.ContextWithIPAddress(ctx, ip)
	return core.ContextWithUserAgent(ctx, r.UserAgent())
}
