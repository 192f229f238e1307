package server

import (
	"net"
	"net/http"
	"strings"
)

// ClientIdentity returns the client IP the request is attributed to. It only
// reads RemoteAddr; forwarded headers are honored solely when the router was
// built with TrustProxy, in which case chi's RealIP middleware has already
// rewritten RemoteAddr.
func ClientIdentity(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
