package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/deciframe-hq/deciframe/internal/tenant"
	"github.com/deciframe-hq/deciframe/pkg/authz"
)

func loadAuthorizer() (*authz.Authorizer, error) {
	modelPath := os.Getenv("AUTHZ_MODEL_PATH")
	if modelPath == "" {
		p, err := defaultAccessPath("config/access/model.conf")
		if err != nil {
			return nil, err
		}
		modelPath = p
	}

	policyPath := os.Getenv("AUTHZ_POLICY_PATH")
	if policyPath == "" {
		p, err := defaultAccessPath("config/access/policy.csv")
		if err != nil {
			return nil, err
		}
		policyPath = p
	}

	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}

	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

// defaultAccessPath walks up from the working directory so tests run
// from package directories still find the repo config.
func defaultAccessPath(rel string) (string, error) {
	path := rel
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: " + rel + " not found")
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

// routeGate maps an API route to its casbin (object, action). Routes
// outside the table are open; fine-grained rules still apply inside
// the handlers.
type routeGate struct {
	object string
	action string
	// limited routes additionally pass the sliding-window limiter.
	limited bool
}

func gateForRoute(method, path string) (routeGate, bool) {
	seg := func(prefix string) bool {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	write := method != http.MethodGet && method != http.MethodHead

	switch {
	case path == "/api/register", path == "/api/login", seg("/api/auth"):
		// Pre-auth routes carry no casbin object but are rate limited.
		return routeGate{limited: true}, true
	case seg("/api/problems"):
		return routeGate{object: "problems", action: rw(write)}, true
	case seg("/api/cases"):
		if strings.HasSuffix(path, "/approve") {
			return routeGate{object: "cases", action: "approve"}, true
		}
		return routeGate{object: "cases", action: rw(write)}, true
	case seg("/api/projects"):
		return routeGate{object: "projects", action: rw(write)}, true
	case seg("/api/tasks"):
		return routeGate{object: "tasks", action: rw(write)}, true
	case seg("/api/notifications"):
		return routeGate{object: "notifications", action: rw(write)}, true
	case seg("/api/workflows"):
		return routeGate{object: "workflows", action: rw(write)}, true
	case seg("/api/audit"):
		return routeGate{object: "audit", action: rw(write)}, true
	case seg("/api/predictions"):
		return routeGate{object: "predictions", action: rw(write)}, true
	case seg("/api/metrics"):
		return routeGate{object: "metrics", action: "read"}, true
	case seg("/api/export"):
		return routeGate{object: "export", action: "read"}, true
	case seg("/api/admin"):
		return routeGate{object: "admin", action: rw(write), limited: write}, true
	case seg("/api/settings"):
		return routeGate{object: "settings", action: rw(write)}, true
	}
	return routeGate{}, false
}

func rw(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

// withGate enforces the route table: session required for any gated
// object, casbin decision on (role, org, object, action), and the
// limiter on flagged routes keyed by client IP and actor.
func (h *handler) withGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gate, gated := gateForRoute(r.Method, r.URL.Path)
		if !gated {
			next.ServeHTTP(w, r)
			return
		}

		tc, _ := currentTenant(r.Context())

		if gate.limited {
			keys := []string{"ip:" + clientIP(r)}
			if tc.Authenticated {
				keys = append(keys, "actor:"+tc.ActorID.String())
			}
			if ok, retry := h.limiter.AllowAll(keys...); !ok {
				// Pre-auth rejections carry no tenant; record them at
				// platform scope so the trail keeps the attempt.
				auditCtx := r.Context()
				if !tc.Authenticated {
					auditCtx = tenant.Platform(auditCtx)
				}
				h.audit.Record(auditCtx, "rate_limited", "route", r.URL.Path, nil,
					map[string]any{"ip": clientIP(r), "method": r.Method}, "")
				w.Header().Set("Retry-After", formatSeconds(retry))
				writeErrorCode(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
		}

		if gate.object == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !tc.Authenticated {
			writeErrorCode(w, r, http.StatusUnauthorized, "authentication_required", "sign in required")
			return
		}

		subject := authz.SubjectFromRole(string(tc.Role))
		domain := authz.DomainFromOrgID(tc.OrgID.String())
		allowed, enforced, err := h.authorizer.Authorize(subject, domain, gate.object, gate.action)
		if err != nil {
			writeErrorCode(w, r, http.StatusInternalServerError, "authz_error", "authorization error")
			return
		}
		if enforced && !allowed {
			writeErrorCode(w, r, http.StatusForbidden, "forbidden", "insufficient role")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
