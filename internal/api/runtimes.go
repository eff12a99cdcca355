package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/aegis-ai/warden/internal/store"
)

func (d *Dependencies) handleCreateRuntime(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	var req CreateRuntimeReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" || len(req.Name) > 255 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name must be 1-255 characters"})
		return
	}

	runtime, plainKey, err := d.Store.CreateRuntime(r.Context(), req.Name)
	if err != nil {
		d.Logger.Error("failed to create runtime", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create runtime"})
		return
	}

	writeJSON(w, http.StatusCreated, CreateRuntimeResp{
		ID:           runtime.ID,
		Name:         runtime.Name,
		APIKey:       plainKey,
		APIKeyPrefix: runtime.APIKeyPrefix,
		Mode:         runtime.Mode,
		FailOpen:     runtime.FailOpen,
		CreatedAt:    runtime.CreatedAt,
	})
}

func (d *Dependencies) handleListRuntimes(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	runtimes, err := d.Store.ListRuntimes(r.Context())
	if err != nil {
		d.Logger.Error("failed to list runtimes", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list runtimes"})
		return
	}

	resp := make([]RuntimeResp, 0, len(runtimes))
	for _, rt := range runtimes {
		resp = append(resp, runtimeToResp(rt))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetRuntime(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	id := r.PathValue("runtime_id")
	runtime, err := d.Store.GetRuntime(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to get runtime", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get runtime"})
		return
	}
	if runtime == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Runtime not found."})
		return
	}
	writeJSON(w, http.StatusOK, runtimeToResp(runtime))
}

func (d *Dependencies) handleUpdateRuntime(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	id := r.PathValue("runtime_id")

	var req UpdateRuntimeReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	if req.Name != nil && (len(*req.Name) == 0 || len(*req.Name) > 255) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name must be 1-255 characters"})
		return
	}
	if req.Mode != nil && *req.Mode != "enforce" && *req.Mode != "shadow" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "mode must be 'enforce' or 'shadow'"})
		return
	}

	runtime, err := d.Store.UpdateRuntime(r.Context(), id, store.UpdateRuntimeParams{
		Name:     req.Name,
		Mode:     req.Mode,
		FailOpen: req.FailOpen,
	})
	if err != nil {
		d.Logger.Error("failed to update runtime", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update runtime"})
		return
	}
	if runtime == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Runtime not found."})
		return
	}
	writeJSON(w, http.StatusOK, runtimeToResp(runtime))
}

func (d *Dependencies) handleDeleteRuntime(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	id := r.PathValue("runtime_id")
	err := d.Store.DeleteRuntime(r.Context(), id)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Runtime not found."})
		return
	}
	if err != nil {
		d.Logger.Error("failed to delete runtime", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete runtime"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	id := r.PathValue("runtime_id")
	runtime, plainKey, err := d.Store.RotateAPIKey(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to rotate key", zapError(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to rotate API key"})
		return
	}
	writeJSON(w, http.StatusOK, RotateKeyResp{
		APIKey:       plainKey,
		APIKeyPrefix: runtime.APIKeyPrefix,
	})
}

func runtimeToResp(rt *store.Runtime) RuntimeResp {
	return RuntimeResp{
		ID:           rt.ID,
		Name:         rt.Name,
		APIKeyPrefix: rt.APIKeyPrefix,
		Mode:         rt.Mode,
		FailOpen:     rt.FailOpen,
		CreatedAt:    rt.CreatedAt,
		UpdatedAt:    rt.UpdatedAt,
	}
}

// zapError is a helper to create a zap field from an error.
func zapError(err error) zap.Field {
	return zap.Error(err)
}
