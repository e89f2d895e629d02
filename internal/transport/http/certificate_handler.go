package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apperrors "hydrocli/internal/errors"
	mw "hydrocli/internal/middleware"
)

// CertificateHandler accepts processing certificates from the product and
// hands them to the manager for local recording and deferred server sync.
// The router places these routes behind the license gate.
type CertificateHandler struct {
	service LicenseService
	logger  *slog.Logger
}

// NewCertificateHandler creates a new certificate handler
func NewCertificateHandler(service LicenseService, logger *slog.Logger) *CertificateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CertificateHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "certificate")),
	}
}

// CertificateRequest carries the certificate payload produced by a
// processing run.
type CertificateRequest struct {
	Payload string `json:"payload" validate:"required"`
}

// Bind implements the render.Binder interface
func (c *CertificateRequest) Bind(r *http.Request) error {
	return validate.Struct(c)
}

// CertificateResponse acknowledges a recorded certificate.
type CertificateResponse struct {
	CertificateID string    `json:"certificate_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Routes returns a chi router for certificate endpoints
func (h *CertificateHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(10 * time.Second))
	r.Post("/", h.Record)
	return r
}

// Record handles POST /api/certificates
func (h *CertificateHandler) Record(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := mw.GetReqID(ctx)

	var req CertificateRequest
	if err := render.Bind(r, &req); err != nil {
		h.renderError(w, r, apperrors.NewWithDetails(
			http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", err.Error()))
		return
	}

	certID, err := h.service.RecordProcessingCertificate(ctx, req.Payload)
	if err != nil {
		h.logger.Error("failed to record processing certificate",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		h.renderError(w, r, apperrors.ErrInternalServer)
		return
	}

	h.logger.Info("processing certificate recorded",
		slog.String("request_id", reqID),
		slog.String("certificate_id", certID),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CertificateResponse{
		CertificateID: certID,
		Timestamp:     time.Now().UTC(),
	})
}

func (h *CertificateHandler) renderError(w http.ResponseWriter, r *http.Request, apiErr *apperrors.APIError) {
	if err := render.Render(w, r, apiErr); err != nil {
		h.logger.Error("failed to render error response", slog.String("error", err.Error()))
	}
}
