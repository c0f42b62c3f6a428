package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chatrelay/internal/blob"
	"github.com/chatrelay/internal/logger"
)

type FileHandler struct {
	blobs *blob.Store
}

func NewFileHandler(blobs *blob.Store) *FileHandler {
	return &FileHandler{blobs: blobs}
}

// ServeFile streams a stored blob. Blobs are immutable (content-addressed),
// so clients may cache them for a year.
// GET /api/files/{fileId}
func (h *FileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")

	stream, info, err := h.blobs.Open(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Errorf("open file %s: %v", fileID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer stream.Close()

	contentType := info.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", info.Name))
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if _, err := io.Copy(w, stream); err != nil {
		// Response already started; nothing to send but the log.
		logger.Errorf("stream file %s: %v", fileID, err)
	}
}

// FileMetadata returns blob info without the payload.
// GET /api/files/metadata/{fileId}
func (h *FileHandler) FileMetadata(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")

	info, err := h.blobs.Stat(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Errorf("stat file %s: %v", fileID, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Message: "file metadata retrieved successfully",
		Data:    info,
	})
}
