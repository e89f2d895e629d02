package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"hydrocli/internal/license"
)

// LicenseChecker is the slice of the license manager the gate needs.
type LicenseChecker interface {
	CheckLicenseContext(ctx context.Context) license.Status
}

// LicenseGate blocks gated routes unless the license currently validates as
// usable. Verdicts are cached briefly so per-request gating does not hit
// the storage layer on every call.
type LicenseGate struct {
	checker         LicenseChecker
	logger          *slog.Logger
	excludePaths    map[string]struct{}
	excludePrefixes []string

	mu        sync.Mutex
	status    license.Status
	checkedAt time.Time
	ttl       time.Duration
}

// NewLicenseGate creates a license gate. License management, health and
// metrics routes are always excluded so an unlicensed install can still
// activate and report.
func NewLicenseGate(checker LicenseChecker, logger *slog.Logger) *LicenseGate {
	return &LicenseGate{
		checker: checker,
		logger:  logger.With(slog.String("component", "license_gate")),
		ttl:     30 * time.Second,
		excludePaths: map[string]struct{}{
			"/api/health":  {},
			"/api/version": {},
			"/metrics":     {},
		},
		excludePrefixes: []string{
			"/api/license",
		},
	}
}

// SetCacheTTL overrides the verdict cache lifetime
func (g *LicenseGate) SetCacheTTL(ttl time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ttl = ttl
	g.checkedAt = time.Time{}
}

// Handler returns the gating middleware
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		status := g.currentStatus(r.Context())
		if !status.IsUsable() {
			g.logger.WarnContext(r.Context(), "request blocked by license gate",
				slog.String("path", r.URL.Path),
				slog.String("status", status.String()),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"status_code":402,"error_code":"LICENSE_REQUIRED","message":"A valid license is required for this operation","license_status":"` + status.String() + `"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *LicenseGate) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *LicenseGate) currentStatus(ctx context.Context) license.Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.checkedAt.IsZero() && time.Since(g.checkedAt) < g.ttl {
		return g.status
	}

	g.status = g.checker.CheckLicenseContext(ctx)
	g.checkedAt = time.Now()
	return g.status
}
