package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docdrive/internal/service"
)

type DirectoryHandler struct {
	directories *service.DirectoryService
	validate    *validator.Validate
	logger      zerolog.Logger
}

type createDirectoryRequest struct {
	Name     string     `json:"name" validate:"required,max=1024"`
	ParentID *uuid.UUID `json:"parent_id,omitempty"`
}

type moveDirectoryRequest struct {
	ParentID *uuid.UUID `json:"parent_id"`
}

func NewDirectoryHandler(directories *service.DirectoryService, validate *validator.Validate, logger zerolog.Logger) *DirectoryHandler {
	return &DirectoryHandler{
		directories: directories,
		validate:    validate,
		logger:      logger,
	}
}

func (h *DirectoryHandler) CreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req createDirectoryRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	dir, err := h.directories.CreateDirectory(r.Context(), req.Name, req.ParentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dir)
}

func (h *DirectoryHandler) GetDirectory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	dir, err := h.directories.GetDirectory(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dir)
}

// MoveDirectory re-parents a directory; a null parent_id moves it to the root.
func (h *DirectoryHandler) MoveDirectory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req moveDirectoryRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	dir, err := h.directories.MoveDirectory(r.Context(), id, req.ParentID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dir)
}
