package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	carnet "github.com/carnetd/carnet"
	"github.com/carnetd/carnet/store/sqlite"
)

// registerNotebookRoutes wires the notebook and history REST surface.
func registerNotebookRoutes(mux *http.ServeMux, notebooks *carnet.NotebookStore, kernels *carnet.KernelRegistry, log *sqlite.Log, logger *slog.Logger) {
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Warn("write response", "error", err)
		}
	}
	writeErr := func(w http.ResponseWriter, status int, msg string) {
		writeJSON(w, status, map[string]string{"error": msg})
	}

	mux.HandleFunc("POST /v1/notebooks", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OwnerID     string `json:"owner_id"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Prewarm     bool   `json:"prewarm"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
			writeErr(w, http.StatusBadRequest, "owner_id is required")
			return
		}
		if req.Title == "" {
			req.Title = "Untitled"
		}
		nb := notebooks.Create(req.OwnerID, req.Title, req.Description)
		if req.Prewarm {
			// Start the kernel ahead of the first execution so the first
			// agent turn does not pay the interpreter startup cost.
			kernels.GetOrCreate(nb.ID)
		}
		writeJSON(w, http.StatusCreated, nb)
	})

	mux.HandleFunc("GET /v1/notebooks", func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			writeErr(w, http.StatusBadRequest, "owner_id is required")
			return
		}
		writeJSON(w, http.StatusOK, notebooks.List(ownerID))
	})

	mux.HandleFunc("GET /v1/notebooks/{id}", func(w http.ResponseWriter, r *http.Request) {
		nb, err := notebooks.Get(r.PathValue("id"))
		if err != nil {
			writeErr(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, nb)
	})

	mux.HandleFunc("DELETE /v1/notebooks/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		notebooks.Delete(id)
		kernels.Destroy(id)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /v1/notebooks/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		html, err := notebooks.ExportHTML(r.PathValue("id"))
		if err != nil {
			writeErr(w, http.StatusNotFound, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(html)
	})

	mux.HandleFunc("POST /v1/notebooks/{id}/kernel/reset", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		kernel, ok := kernels.Get(id)
		if !ok {
			writeErr(w, http.StatusNotFound, "no kernel for notebook "+id)
			return
		}
		if err := kernel.Reset(r.Context()); err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"execution_count": kernel.ExecutionCount()})
	})

	mux.HandleFunc("GET /v1/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		msgs, err := log.Messages(r.Context(), r.PathValue("id"), limit)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err.Error())
			return
		}
		if msgs == nil {
			msgs = []carnet.StoredMessage{}
		}
		writeJSON(w, http.StatusOK, msgs)
	})
}
