// Package admin exposes the runtime stub-management HTTP API.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/getfaultd/faultd/pkg/httputil"
	"github.com/getfaultd/faultd/pkg/logging"
	"github.com/getfaultd/faultd/pkg/stub"
)

// API serves stub registration, listing, deletion and reset.
type API struct {
	registry *stub.Registry
	log      *slog.Logger
}

// NewAPI creates an admin API over the given registry.
func NewAPI(registry *stub.Registry, log *slog.Logger) *API {
	if log == nil {
		log = logging.Nop()
	}
	return &API{registry: registry, log: log}
}

// Handler returns the admin HTTP handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /__admin/health", a.handleHealth)
	mux.HandleFunc("GET /__admin/mappings", a.handleList)
	mux.HandleFunc("POST /__admin/mappings", a.handleCreate)
	mux.HandleFunc("DELETE /__admin/mappings", a.handleReset)
	mux.HandleFunc("DELETE /__admin/mappings/{id}", a.handleDelete)
	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleList(w http.ResponseWriter, _ *http.Request) {
	stubs := a.registry.All()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"mappings": stubs,
		"total":    len(stubs),
	})
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var s stub.Stub
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	created, err := a.registry.Register(&s)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid_stub", err.Error())
		return
	}
	a.log.Info("stub registered", "id", created.ID, "method", created.Method,
		"path", created.Path, "fault", created.Response.Fault.String())
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (a *API) handleReset(w http.ResponseWriter, _ *http.Request) {
	a.registry.Reset()
	a.log.Info("stub registry reset")
	httputil.WriteNoContent(w)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.registry.Remove(id) {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "no stub with id "+id)
		return
	}
	httputil.WriteNoContent(w)
}
