package invoke

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"pagediff/internal/pipeline"
	"pagediff/internal/version"
)

const maxRequestBody = 10 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves pair jobs for remote invokers and whole jobs for
// orchestrators.
type Handler struct {
	invoker pipeline.Invoker
	runner  *pipeline.Runner
	logger  *log.Logger
}

// NewHandler creates a handler. runner may be nil, in which case POST /jobs
// is not served.
func NewHandler(invoker pipeline.Invoker, runner *pipeline.Runner, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{invoker: invoker, runner: runner, logger: logger}
}

// Routes returns a mux with every endpoint registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", h.InvokeHandler)
	mux.HandleFunc("/jobs", h.JobsHandler)
	mux.HandleFunc("/health", h.HealthHandler)
	return mux
}

// InvokeHandler handles POST /invoke with a PairJob body.
func (h *Handler) InvokeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var job pipeline.PairJob
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&job); err != nil {
		respondError(w, fmt.Sprintf("Invalid job: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.invoker.Invoke(r.Context(), job)
	if err != nil {
		var invalid *pipeline.InvalidParamsError
		var stage *pipeline.StageError
		switch {
		case errors.As(err, &invalid):
			respondError(w, err.Error(), http.StatusBadRequest)
		case errors.As(err, &stage):
			h.logger.Printf("pair %s failed at %s: %v", pipeline.PairKey(job.BeforeIndex, job.AfterIndex), stage.Stage, stage.Err)
			respondJSON(w, pipeline.PairFailure{Stage: stage.Stage, Error: stage.Err.Error()}, http.StatusUnprocessableEntity)
		default:
			respondError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	respondJSON(w, result, http.StatusOK)
}

// JobsHandler handles POST /jobs with a Job body and answers with the
// Result.
func (h *Handler) JobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.runner == nil {
		respondError(w, "Jobs are not served by this worker", http.StatusNotFound)
		return
	}

	var job pipeline.Job
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&job); err != nil {
		respondError(w, fmt.Sprintf("Invalid job: %v", err), http.StatusBadRequest)
		return
	}

	result, err := h.runner.Run(r.Context(), job)
	if err != nil {
		var invalid *pipeline.InvalidParamsError
		switch {
		case errors.As(err, &invalid):
			respondError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, pipeline.ErrStoreUnavailable):
			respondError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			respondError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	respondJSON(w, result, http.StatusOK)
}

// HealthHandler reports liveness and the build version.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok", "version": version.Version}, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, errorResponse{Error: message}, status)
}
