package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"resetwatch/core/backups"
	"resetwatch/core/utils"
)

type BackupService interface {
	CreateBackup(ctx context.Context, label string) (*backups.Artifact, error)
	ListArtifacts() ([]backups.Artifact, error)
}

var _ BackupService = (*backups.Service)(nil)

const backupPayloadMaxBytes = 4 * 1024

type BackupsHandler struct {
	svc    BackupService
	logger *utils.Logger
}

func NewBackupsHandler(svc BackupService, logger *utils.Logger) *BackupsHandler {
	return &BackupsHandler{svc: svc, logger: logger}
}

func (h *BackupsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		http.Error(w, errServiceUnavailable, http.StatusServiceUnavailable)
		return
	}
	items, err := h.svc.ListArtifacts()
	if err != nil {
		h.logger.Errorf("list backups: %v", err)
		http.Error(w, errServerError, http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []backups.Artifact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *BackupsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		http.Error(w, errServiceUnavailable, http.StatusServiceUnavailable)
		return
	}
	var payload struct {
		Label string `json:"label"`
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, backupPayloadMaxBytes))
	if err != nil {
		http.Error(w, errBadRequest, http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, errBadRequest, http.StatusBadRequest)
			return
		}
	}
	artifact, err := h.svc.CreateBackup(r.Context(), payload.Label)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, artifact)
	case errors.Is(err, backups.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, backups.ErrUnsupported):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		h.logger.Errorf("create backup: %v", err)
		http.Error(w, errServerError, http.StatusInternalServerError)
	}
}
