package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/services"
)

type ImageHandler struct {
	images *services.ImageService
	logger *zap.Logger
}

func NewImageHandler(images *services.ImageService, logger *zap.Logger) *ImageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageHandler{images: images, logger: logger}
}

// UploadImage accepts a multipart image with an optional "caption" field.
func (h *ImageHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	data, header, err := readUpload(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var caption *string
	if c := r.FormValue("caption"); c != "" {
		caption = &c
	}
	img, err := h.images.Upload(r.Context(), userID, header.Filename, header.Header.Get("Content-Type"), data, caption)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

type captionRequest struct {
	UserCaption *string `json:"userCaption"`
	AICaption   *string `json:"aiCaption"`
}

// SubmitCaption combines and indexes captions. An empty body asks the
// configured captioner for one.
func (h *ImageHandler) SubmitCaption(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req captionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}

	id := chi.URLParam(r, "id")
	var err error
	if req.UserCaption == nil && req.AICaption == nil && h.images.CanAutoCaption() {
		_, err = h.images.AutoCaption(r.Context(), userID, id)
	} else {
		_, err = h.images.SubmitCaption(r.Context(), userID, id, req.UserCaption, req.AICaption)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	img, err := h.images.Get(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}
