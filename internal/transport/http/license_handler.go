package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "hydrocli/internal/errors"
	"hydrocli/internal/license"
	mw "hydrocli/internal/middleware"
)

// validate is the shared request validator for the loopback API.
var validate = validator.New(validator.WithRequiredStructEnabled())

// LicenseService is the slice of the license manager the HTTP surface needs.
type LicenseService interface {
	CheckLicenseContext(ctx context.Context) license.Status
	StatusReason() string
	GetDisplayInfo() license.DisplayInfo
	ActivateLicense(ctx context.Context, licenseKey, email string) error
	ActivateOffline(ctx context.Context, filePath string) error
	ForceServerCheck(ctx context.Context) (license.Status, error)
	Deactivate(ctx context.Context) error
	RecordProcessingCertificate(ctx context.Context, payload string) (string, error)
}

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the online activation payload.
type ActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=8"`
	Email      string `json:"email" validate:"omitempty,email"`
}

// Bind implements the render.Binder interface for activation requests
func (a *ActivationRequest) Bind(r *http.Request) error {
	if err := validate.Struct(a); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("field %q failed %q validation", verrs[0].Field(), verrs[0].Tag())
		}
		return err
	}
	return nil
}

// OfflineActivationRequest points at a signed license file on local disk.
type OfflineActivationRequest struct {
	FilePath string `json:"file_path" validate:"required"`
}

// Bind implements the render.Binder interface for offline activation
func (o *OfflineActivationRequest) Bind(r *http.Request) error {
	return validate.Struct(o)
}

// StatusResponse is the lightweight status gate consumed on every app start.
type StatusResponse struct {
	Status        license.Status `json:"status"`
	Usable        bool           `json:"usable"`
	Reason        string         `json:"reason,omitempty"`
	DaysRemaining int            `json:"days_remaining"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ActivationResponse confirms a successful activation.
type ActivationResponse struct {
	Success   bool           `json:"success"`
	Status    license.Status `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Get("/detail", h.GetDetail)
	r.Post("/activate", h.Activate)
	r.Post("/activate-offline", h.ActivateOffline)
	r.Post("/refresh", h.Refresh)
	r.Post("/deactivate", h.Deactivate)

	return r
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	status := h.service.CheckLicenseContext(ctx)
	info := h.service.GetDisplayInfo()

	h.logger.Debug("license status checked",
		slog.String("request_id", mw.GetReqID(ctx)),
		slog.String("status", status.String()),
		slog.Duration("duration", time.Since(start)),
	)

	render.JSON(w, r, StatusResponse{
		Status:        status,
		Usable:        status.IsUsable(),
		Reason:        h.service.StatusReason(),
		DaysRemaining: info.DaysRemaining,
		Timestamp:     time.Now().UTC(),
	})
}

// GetDetail handles GET /api/license/detail
func (h *LicenseHandler) GetDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.service.CheckLicenseContext(ctx)
	info := h.service.GetDisplayInfo()

	h.logger.Debug("license detail requested",
		slog.String("request_id", mw.GetReqID(ctx)),
		slog.String("status", info.Status.String()),
	)

	render.JSON(w, r, info)
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := mw.GetReqID(ctx)

	var req ActivationRequest
	if err := render.Bind(r, &req); err != nil {
		h.logger.Warn("activation request rejected",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, apperrors.NewWithDetails(
			http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error()))
		return
	}

	start := time.Now()
	if err := h.service.ActivateLicense(ctx, req.LicenseKey, req.Email); err != nil {
		h.logger.Warn("activation failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		h.handleError(w, r, err)
		return
	}

	h.logger.Info("license activated",
		slog.String("request_id", reqID),
		slog.Duration("duration", time.Since(start)),
	)

	render.JSON(w, r, ActivationResponse{
		Success:   true,
		Status:    h.service.CheckLicenseContext(ctx),
		Message:   "License activated successfully",
		Timestamp: time.Now().UTC(),
	})
}

// ActivateOffline handles POST /api/license/activate-offline
func (h *LicenseHandler) ActivateOffline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := mw.GetReqID(ctx)

	var req OfflineActivationRequest
	if err := render.Bind(r, &req); err != nil {
		h.renderError(w, r, apperrors.NewWithDetails(
			http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error()))
		return
	}

	if err := h.service.ActivateOffline(ctx, req.FilePath); err != nil {
		h.logger.Warn("offline activation failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		h.handleError(w, r, err)
		return
	}

	h.logger.Info("license activated offline", slog.String("request_id", reqID))

	render.JSON(w, r, ActivationResponse{
		Success:   true,
		Status:    h.service.CheckLicenseContext(ctx),
		Message:   "License file accepted; server sync is pending",
		Timestamp: time.Now().UTC(),
	})
}

// Refresh handles POST /api/license/refresh, forcing a server round-trip.
// A transient transport failure keeps the cached status and reports 200
// with stale=true rather than degrading the license.
func (h *LicenseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := mw.GetReqID(ctx)

	status, err := h.service.ForceServerCheck(ctx)
	stale := false
	if err != nil {
		if !apperrors.IsTransient(err) {
			h.handleError(w, r, err)
			return
		}
		stale = true
		h.logger.Warn("server check unreachable, serving cached status",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
	}

	info := h.service.GetDisplayInfo()
	render.JSON(w, r, struct {
		StatusResponse
		Stale bool `json:"stale"`
	}{
		StatusResponse: StatusResponse{
			Status:        status,
			Usable:        status.IsUsable(),
			Reason:        h.service.StatusReason(),
			DaysRemaining: info.DaysRemaining,
			Timestamp:     time.Now().UTC(),
		},
		Stale: stale,
	})
}

// Deactivate handles POST /api/license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := mw.GetReqID(ctx)

	if err := h.service.Deactivate(ctx); err != nil {
		h.logger.Error("deactivation failed",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		h.handleError(w, r, err)
		return
	}

	h.logger.Info("license deactivated", slog.String("request_id", reqID))

	render.JSON(w, r, ActivationResponse{
		Success:   true,
		Status:    license.StatusNotFound,
		Message:   "License removed from this machine",
		Timestamp: time.Now().UTC(),
	})
}

// handleError maps license-domain sentinel errors onto API error responses.
func (h *LicenseHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apperrors.APIError
	switch {
	case errors.As(err, &apiErr):
		// already shaped
	case errors.Is(err, apperrors.ErrRateLimited):
		apiErr = apperrors.ErrRateLimitExceeded
	case errors.Is(err, apperrors.ErrNetworkError):
		apiErr = apperrors.ErrServerUnreachable
	case errors.Is(err, apperrors.ErrRevoked):
		apiErr = apperrors.ErrLicenseRevoked
	case errors.Is(err, apperrors.ErrHardwareMismatch):
		apiErr = apperrors.ErrMachineMismatch
	case errors.Is(err, apperrors.ErrLicenseNotActivated):
		apiErr = apperrors.ErrLicenseNotFound
	case errors.Is(err, apperrors.ErrInvalidLicenseKey),
		errors.Is(err, apperrors.ErrInvalidLicenseFormat):
		apiErr = apperrors.NewWithDetails(
			http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error())
	case errors.Is(err, apperrors.ErrActivationFailed):
		apiErr = apperrors.New(
			http.StatusUnprocessableEntity, "ACTIVATION_FAILED", err.Error())
	default:
		h.logger.Error("unhandled license error", slog.String("error", err.Error()))
		apiErr = apperrors.ErrInternalServer
	}
	h.renderError(w, r, apiErr)
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, apiErr *apperrors.APIError) {
	if err := render.Render(w, r, apiErr); err != nil {
		h.logger.Error("failed to render error response", slog.String("error", err.Error()))
	}
}
