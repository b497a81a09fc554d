package batch

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// corsError writes an error response with CORS headers set.
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrRunInProgress) || errors.Is(err, ErrItemProcessing) {
		corsError(w, err.Error(), http.StatusConflict)
		return
	}
	corsError(w, err.Error(), http.StatusBadRequest)
}

// handleCreateBatch creates an empty batch queue.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.CreateBatch()
	if err != nil {
		slog.Error("Error creating batch", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// handleListBatches returns all batches.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.ListBatches()
	if err != nil {
		slog.Error("Error listing batches", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if batches == nil {
		batches = []*Batch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

// handleGetBatch returns a single batch with its queue items.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}
	b, err := s.service.GetBatch(id)
	if err != nil {
		corsError(w, "Batch not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleDeleteBatch deletes a batch and its stored images.
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteBatch(id); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			corsError(w, err.Error(), http.StatusConflict)
			return
		}
		corsError(w, "Error deleting batch", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddImage handles an image upload into the batch queue.
func (s *Server) handleAddImage(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")

	// 50MB covers high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		setCORSHeaders(w)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorMsg})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		setCORSHeaders(w)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	item, err := s.service.AddImage(batchID, header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error adding image", "batch", batchID, "filename", header.Filename, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// contentTypeFromExt guesses a MIME type for uploads that did not carry
// one. HEIC/HEIF are preserved so the conversion step can detect them.
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleCropImage uploads a cropped variant for a queue item.
func (s *Server) handleCropImage(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	itemID := r.PathValue("imageID")

	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		corsError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		corsError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		corsError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	item, err := s.service.CropImage(batchID, itemID, data, contentType)
	if err != nil {
		slog.Error("Error cropping image", "batch", batchID, "item", itemID, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleMarkReady marks a pending item ready without cropping.
func (s *Server) handleMarkReady(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	itemID := r.PathValue("imageID")

	item, err := s.service.MarkReady(batchID, itemID)
	if err != nil {
		slog.Error("Error marking item ready", "batch", batchID, "item", itemID, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleRemoveImage removes an item from the queue.
func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	itemID := r.PathValue("imageID")

	if err := s.service.RemoveImage(batchID, itemID); err != nil {
		slog.Error("Error removing image", "batch", batchID, "item", itemID, "error", err)
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunBatch runs the batch and returns the flattened candidates.
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")

	candidates, err := s.service.Run(r.Context(), batchID, func(current, total int) {
		slog.Info("Batch progress", "batch", batchID, "current", current, "total", total)
	})
	if err != nil {
		slog.Error("Error running batch", "batch", batchID, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

// handleCandidates returns the flattened candidate sequence of a batch.
func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, err := s.service.GetBatch(id)
	if err != nil {
		corsError(w, "Batch not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": b.Flatten()})
}

// handleExtract runs single-receipt extraction over posted OCR text.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.service.ExtractText(req.Text))
}
