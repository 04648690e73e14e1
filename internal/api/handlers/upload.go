package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/inventory"
	"github.com/megayours/pfp-inventory/internal/service"
)

// UploadHandler accepts model files for a tab's tokens.
type UploadHandler struct {
	maxBytes int64
	logger   *logrus.Logger
}

const defaultMaxModelBytes = 64 << 20

func NewUploadHandler(maxBytes int64, logger *logrus.Logger) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxModelBytes
	}
	return &UploadHandler{maxBytes: maxBytes, logger: logger}
}

// UploadModel reads a multipart form with fields file, domain and mode (replace|new).
func (h *UploadHandler) UploadModel(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	uid, err := domain.ParseHex(chi.URLParam(r, "uid"))
	if err != nil {
		http.Error(w, "Invalid token uid", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	mode, err := inventory.ParseAttachMode(r.FormValue("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	result, err := tab.UploadModel(r.Context(), service.UploadInput{
		TokenUID:    uid,
		Mode:        mode,
		Domain:      r.FormValue("domain"),
		FileName:    header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *UploadHandler) Progress(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tab.Tracker.Snapshot())
}
