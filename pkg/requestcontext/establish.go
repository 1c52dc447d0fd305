package requestcontext

import (
	"net"
	"strings"
)

// Identity is the resolved caller, as produced by the authentication layer.
type Identity struct {
	ID    string
	Role  string
	Email string
}

// Transport is the raw metadata of an inbound request. It is transport-agnostic: the HTTP
// middleware fills it from headers and cookies, other boundaries from their own envelopes.
type Transport struct {
	ForwardedFor string // X-Forwarded-For style list, client first
	RealIP       string // X-Real-IP style single address
	RemoteAddr   string // direct connection address, "host:port" or bare host
	UserAgent    string
	SessionToken string // session cookie value
	RequestID    string
}

// Establish derives the request info. A nil identity yields an anonymous actor.
func Establish(t Transport, identity *Identity) Info {
	info := Info{
		ClientIP:  ClientAddress(t),
		UserAgent: strings.TrimSpace(t.UserAgent),
		SessionID: strings.TrimSpace(t.SessionToken),
		RequestID: strings.TrimSpace(t.RequestID),
	}
	if identity != nil {
		info.ActorID = identity.ID
		info.ActorRole = identity.Role
		info.ActorEmail = identity.Email
	}
	return info
}

// ClientAddress picks the originating client address: the first entry of a forwarded-for
// list (the original client in a proxy chain), then a real-ip header, then the direct
// connection address with any port removed.
func ClientAddress(t Transport) string {
	if xff := strings.TrimSpace(t.ForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(t.RealIP); xri != "" {
		return xri
	}
	addr := strings.TrimSpace(t.RemoteAddr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
