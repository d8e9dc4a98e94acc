// realip.go — адрес клиента из заголовков прокси, только если запрос
// пришёл от доверенного прокси.
package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies подменяет RemoteAddr адресом клиента из X-Forwarded-For
// или X-Real-IP, если непосредственный отправитель входит в trusted.
// Из X-Forwarded-For берётся самый правый адрес вне доверенных сетей:
// всё левее него клиент мог дописать сам. Пустой trusted — заголовки
// игнорируются.
func TrustedProxies(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := parseAddr(clientIP(r))
			if ok && inPrefixes(peer, trusted) {
				if ip, found := forwardedClient(r.Header, trusted); found {
					r.RemoteAddr = net.JoinHostPort(ip.String(), "0")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedClient ищет адрес клиента в заголовках доверенного прокси.
func forwardedClient(h http.Header, trusted []netip.Prefix) (netip.Addr, bool) {
	if xff := h.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip, ok := parseAddr(strings.TrimSpace(hops[i]))
			if !ok {
				return netip.Addr{}, false
			}
			if !inPrefixes(ip, trusted) {
				return ip, true
			}
		}
		return netip.Addr{}, false
	}
	return parseAddr(strings.TrimSpace(h.Get("X-Real-IP")))
}

func parseAddr(s string) (netip.Addr, bool) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func inPrefixes(ip netip.Addr, prefixes []netip.Prefix) bool {
	for _, p := range prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
