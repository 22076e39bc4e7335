package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy 决定哪些浏览器来源可以携带会话 cookie 访问 API。
// 列表中的 "*" 放行任意来源，仅用于本地开发。
type OriginPolicy struct {
	any     bool
	allowed map[string]struct{}
}

// NewOriginPolicy 根据配置的来源列表构建策略。空列表只允许同源访问。
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.any = true
		default:
			p.allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	return p
}

// Allows reports whether a cross-origin request from origin is permitted.
func (p *OriginPolicy) Allows(origin string) bool {
	if p == nil || origin == "" {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
	return ok
}

// CheckRequest 用作 websocket.Upgrader.CheckOrigin：没有 Origin 头的非浏览器客户端
// 和同源页面直接放行，其余按列表判断。
func (p *OriginPolicy) CheckRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return p.Allows(origin)
}

// CORS 只对允许的来源回显 Origin 并开启 credentials。
func (p *OriginPolicy) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")
		origin := r.Header.Get("Origin")
		allowed := p.Allows(origin)
		if allowed {
			// 会话 cookie 需要 credentials，因此回显 Origin 而不是使用 "*"。
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}

		if r.Method == http.MethodOptions && origin != "" {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
