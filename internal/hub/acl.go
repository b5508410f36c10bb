package hub

import (
	"net"
	"net/http"
)

// ACL controls HTTP access by IP/CIDR. It is deny-by-default: only
// remote addresses contained in at least one configured CIDR are
// allowed through.
type ACL struct {
	nets []*net.IPNet
}

// NewACL parses cidrs and builds an ACL from them. Malformed entries
// are skipped rather than rejecting the whole list, since the admin
// API is an optional surface and a typo shouldn't be fatal to startup.
func NewACL(cidrs []string) *ACL {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		nets = append(nets, n)
	}
	return &ACL{nets: nets}
}

// Middleware wraps next with the ACL check, responding 403 Forbidden
// to remote addresses outside every configured CIDR.
func (a *ACL) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allowed(r.RemoteAddr) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed reports whether remoteAddr (host:port, or a bare host) falls
// within any configured CIDR.
func (a *ACL) Allowed(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
