package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// CheckFunc 单项健康检查，返回 nil 表示健康。
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name  string
	check CheckFunc
}

// HealthChecker 聚合各依赖的健康检查，暴露为 HTTP 端点。
type HealthChecker struct {
	timeout time.Duration
	checks  []namedCheck
}

// NewHealthChecker 创建健康检查器。
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{timeout: 3 * time.Second}
}

// AddCheck 注册一项命名检查。
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

// Handler 返回健康检查处理器。任一检查失败时返回 503。
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		status := "ok"
		results := make(map[string]string, len(h.checks))
		for _, c := range h.checks {
			if err := c.check(ctx); err != nil {
				status = "unavailable"
				results[c.name] = err.Error()
			} else {
				results[c.name] = "ok"
			}
		}

		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": status,
			"checks": results,
		})
	}
}
