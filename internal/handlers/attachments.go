package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AttachmentServiceInterface defines what the attachment endpoints need.
type AttachmentServiceInterface interface {
	Upload(ctx context.Context, up services.Upload) (*models.SignedAttachment, error)
	Get(ctx context.Context, id string) (*models.SignedAttachment, error)
}

// multipartOverhead leaves room for boundaries and part headers on top of
// the file itself.
const multipartOverhead = 1 << 20

type AttachmentHandler struct {
	service AttachmentServiceInterface
	maxSize int64
	logger  *slog.Logger
}

func NewAttachmentHandler(service AttachmentServiceInterface, maxSize int64, logger *slog.Logger) *AttachmentHandler {
	return &AttachmentHandler{service: service, maxSize: maxSize, logger: logger}
}

// Upload handles POST /attachments with a multipart "file" field.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			pkghttp.WriteDomainError(w, models.NewValidationError("file", "file is too large"))
			return
		}
		pkghttp.WriteDomainError(w, &models.ValidationError{Field: "file", Message: "a multipart file field is required", Err: err})
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	attachment, err := h.service.Upload(r.Context(), services.Upload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		MaxSize:     h.maxSize,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, attachment)
}

// Get handles GET /attachments/{id}
func (h *AttachmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	attachment, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, attachment)
}
