package simulator

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/groundlink/missionwatch/pkg/logging"
	"github.com/groundlink/missionwatch/pkg/models"
)

// Router builds the simulator's HTTP surface: the REST API missionwatch
// consumes, the WebSocket event stream, its SSE mirror and /metrics.
func (e *Engine) Router() *mux.Router {
	router := mux.NewRouter()

	e.hub.SetCommandHandler(func(cmd models.Command) {
		if cmd.Type == "abort_run" && cmd.RunID != "" {
			if err := e.Abort(cmd.RunID); err != nil {
				e.logger.Warn("abort command failed",
					logging.F("run_id", cmd.RunID), logging.F("error", err))
			}
		}
	})
	e.hub.SetActiveRunsFunc(e.activeRunIDs)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", e.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/missions/{id}", e.handleGetMission).Methods(http.MethodGet)
	api.HandleFunc("/runs", e.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs", e.handleStartRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", e.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/nodes/{nodeId}/retry", e.handleRetryNode).Methods(http.MethodPost)
	api.HandleFunc("/events", e.hub.HandleWebSocket)
	api.HandleFunc("/events/sse", e.hub.ServeSSE)

	router.Handle("/metrics", promhttp.Handler())
	return router
}

// activeRunIDs lists non-terminal runs for the init frame.
func (e *Engine) activeRunIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var ids []string
	for id, run := range e.runs {
		if !run.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (e *Engine) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"watchers": e.hub.Watchers(),
	})
}

func (e *Engine) handleGetMission(w http.ResponseWriter, r *http.Request) {
	mission, ok := e.Mission(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "mission not found")
		return
	}
	writeJSON(w, http.StatusOK, mission)
}

func (e *Engine) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.Runs())
}

func (e *Engine) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := e.Run(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (e *Engine) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MissionID string `json:"missionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MissionID == "" {
		writeError(w, http.StatusBadRequest, "missionId is required")
		return
	}
	run, err := e.StartRun(body.MissionID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (e *Engine) handleRetryNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := e.RetryNode(vars["id"], vars["nodeId"]); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
