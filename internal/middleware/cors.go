package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowedHeaders = "Content-Type, Authorization, X-Session-Id, X-Persona-Id, X-Request-Id"
)

// OriginAllowlist 判断 Origin 是否在白名单内，"*" 放行所有来源。
type OriginAllowlist struct {
	origins  map[string]struct{}
	wildcard bool
}

// NewOriginAllowlist 解析配置中的来源列表。
func NewOriginAllowlist(allowedOrigins []string) *OriginAllowlist {
	l := &OriginAllowlist{origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			l.wildcard = true
			continue
		}
		if o != "" {
			l.origins[o] = struct{}{}
		}
	}
	return l
}

// Allows reports whether a non-empty origin may use the API.
func (l *OriginAllowlist) Allows(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false
	}
	if l.wildcard {
		return true
	}
	_, ok := l.origins[origin]
	return ok
}

// CheckOrigin 用于 WebSocket 握手。浏览器不会对 WebSocket 做 CORS 检查，
// 因此必须在升级前拒绝白名单外的来源；没有 Origin 的非浏览器客户端放行。
func (l *OriginAllowlist) CheckOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	return origin == "" || l.Allows(origin)
}

// CORS 仅对白名单内的 Origin 回写跨域头，并允许携带凭证。
// 预检请求直接以 204 结束。
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowlist := NewOriginAllowlist(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			ok := allowlist.Allows(origin)

			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if !ok {
					http.Error(w, "cors preflight not allowed", http.StatusForbidden)
					return
				}
				h := w.Header()
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
