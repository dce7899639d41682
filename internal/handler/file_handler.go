package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docdrive/internal/domain"
	"docdrive/internal/service"
)

type FileHandler struct {
	files    *service.FileService
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewFileHandler(files *service.FileService, validate *validator.Validate, logger zerolog.Logger) *FileHandler {
	return &FileHandler{
		files:    files,
		validate: validate,
		logger:   logger,
	}
}

type createFileRequest struct {
	Name        string     `json:"name" validate:"required,max=1024"`
	DirectoryID *uuid.UUID `json:"directory_id"`
	MIMEType    string     `json:"mime_type" validate:"omitempty,max=255"`
	Size        int64      `json:"size" validate:"gte=0"`
	Key         string     `json:"key" validate:"omitempty,max=1024"`
}

// provisionalResponse is sent when the file was recorded but no upload URL
// could be signed.
type provisionalResponse struct {
	Error string       `json:"error"`
	File  *domain.File `json:"file"`
}

func (h *FileHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	var req createFileRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.files.CreateFile(r.Context(), service.CreateFileInput{
		Name:        req.Name,
		DirectoryID: req.DirectoryID,
		MIMEType:    req.MIMEType,
		Size:        req.Size,
		Key:         req.Key,
	})
	if err != nil {
		if service.IsProvisional(err) && res != nil {
			writeJSON(w, http.StatusBadGateway, provisionalResponse{Error: err.Error(), File: res.File})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *FileHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	file, err := h.files.GetFile(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *FileHandler) FindFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.files.FindFiles(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

type moveFileRequest struct {
	// DirectoryID null moves the file to the root.
	DirectoryID *uuid.UUID `json:"directory_id"`
}

func (h *FileHandler) MoveFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req moveFileRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	file, err := h.files.MoveFile(r.Context(), id, req.DirectoryID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

type renameFileRequest struct {
	Name string `json:"name" validate:"required,max=1024"`
}

func (h *FileHandler) RenameFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req renameFileRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	file, err := h.files.RenameFile(r.Context(), id, req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.files.DeleteFile(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *FileHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	versions, err := h.files.ListVersions(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

type addVersionRequest struct {
	MIMEType string `json:"mime_type" validate:"omitempty,max=255"`
	Size     int64  `json:"size" validate:"gte=0"`
	Key      string `json:"key" validate:"omitempty,max=1024"`
}

func (h *FileHandler) AddVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req addVersionRequest
	if err := decode(r, h.validate, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.files.AddVersion(r.Context(), id, service.AddVersionInput{
		MIMEType: req.MIMEType,
		Size:     req.Size,
		Key:      req.Key,
	})
	if err != nil {
		if service.IsProvisional(err) && res != nil {
			writeJSON(w, http.StatusBadGateway, provisionalResponse{Error: err.Error(), File: res.File})
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *FileHandler) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	versionID, err := pathID(r, "versionID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	file, err := h.files.DeleteVersion(r.Context(), id, versionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

type downloadResponse struct {
	URL     string              `json:"url"`
	Version *domain.FileVersion `json:"version"`
}

// Download returns a signed URL for the newest version, or redirects to it
// when the request asks for ?redirect=true.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	url, version, err := h.files.DownloadURL(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}
	writeJSON(w, http.StatusOK, downloadResponse{URL: url, Version: version})
}
