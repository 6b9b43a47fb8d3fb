package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/segmentio/ksuid"

	"github.com/MrEthical07/authcore"
)

// RequestIDHeader is read from requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

// ClientInfo stores the client address, user agent and request id in the
// request context. With trustProxy the first X-Forwarded-For entry wins over
// the socket address; enable it only behind a proxy that sets the header.
func ClientInfo(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" || len(requestID) > 128 {
				requestID = ksuid.New().String()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := authcore.WithRequestID(r.Context(), requestID)
			ctx = authcore.WithClientIP(ctx, ClientIP(r, trustProxy))
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the address of the caller of r.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
