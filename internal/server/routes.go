package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"ensemble/internal/api"
	"ensemble/pkg/logging"
)

// handlers serves the status API over an api.ApplicationHandler.
type handlers struct {
	app api.ApplicationHandler
	// done ends open websocket streams when closed.
	done <-chan struct{}
}

// RegisterRoutes mounts the /api/v1 endpoints on router. Streams end when
// done is closed.
func RegisterRoutes(router *mux.Router, app api.ApplicationHandler, done <-chan struct{}) {
	h := &handlers{app: app, done: done}
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/application", h.handleGetApplication).Methods("GET")
	v1.HandleFunc("/services", h.handleListServices).Methods("GET")
	v1.HandleFunc("/services/{name}", h.handleGetService).Methods("GET")
	v1.HandleFunc("/services/{name}/restart", h.handleRestartService).Methods("POST")
	v1.HandleFunc("/logs/{name}", h.handleGetLogs).Methods("GET")
	v1.HandleFunc("/logs/{name}/stream", h.handleStreamLogs).Methods("GET")
	v1.HandleFunc("/events", h.handleStreamEvents).Methods("GET")
}

func (h *handlers) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.GetApplication()
	if err != nil {
		errorResponse(err).WriteJSON(w)
		return
	}
	Success(info).WriteJSON(w)
}

func (h *handlers) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.app.ListServices()
	if err != nil {
		errorResponse(err).WriteJSON(w)
		return
	}
	Success(services).WriteJSON(w)
}

func (h *handlers) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	info, err := h.app.GetService(name)
	if err != nil {
		errorResponse(err).WriteJSON(w)
		return
	}
	Success(info).WriteJSON(w)
}

func (h *handlers) handleRestartService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.app.RestartService(r.Context(), name); err != nil {
		logging.Warn("Server", "Restart of %s failed: %v", name, err)
		errorResponse(err).WriteJSON(w)
		return
	}
	Accepted("restarting " + name).WriteJSON(w)
}

func (h *handlers) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	tail, ok := parseTail(r)
	if !ok {
		BadRequest("tail must be a non-negative integer").WriteJSON(w)
		return
	}
	lines, err := h.app.GetLogs(name, tail)
	if err != nil {
		errorResponse(err).WriteJSON(w)
		return
	}
	Success(lines).WriteJSON(w)
}

// parseTail reads the optional ?tail=N query parameter. Zero means all lines.
func parseTail(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("tail")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
