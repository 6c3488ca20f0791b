// Package server exposes the optimization service over HTTP: a small REST
// surface plus a JSON-RPC 2.0 endpoint, both backed by the same job store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covariant-dev/bayopt/internal/benchmarks"
	"github.com/covariant-dev/bayopt/internal/bo"
	"github.com/covariant-dev/bayopt/internal/bo/registry"
	"github.com/covariant-dev/bayopt/internal/config"
	"github.com/covariant-dev/bayopt/internal/metrics"
)

// Job tracks one optimization run from submission to a terminal state.
type Job struct {
	ID          string
	Status      string // "pending", "running", "completed", "failed", "cancelled"
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time

	driver *bo.Driver
	cancel context.CancelFunc
	result *bo.Result
	err    error
}

// Server manages optimization jobs and serves their status.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	// slots caps concurrently running jobs at the configured limit.
	slots chan struct{}

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewServer creates a server instance.
func NewServer(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.Optimization.MaxConcurrentJobs
	if limit < 1 {
		limit = 1
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.Named("server"),
		metrics: m,
		slots:   make(chan struct{}, limit),
		jobs:    make(map[string]*Job),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// variableSpec is the wire form of one domain dimension.
type variableSpec struct {
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Values []float64 `json:"values,omitempty"`
}

// optimizeRequest is the job submission schema, shared by REST and RPC.
type optimizeRequest struct {
	Objective  string         `json:"objective"`
	Dimensions int            `json:"dimensions,omitempty"`
	Domain     []variableSpec `json:"domain,omitempty"`

	ModelType                string `json:"model_type,omitempty"`
	AcquisitionType          string `json:"acquisition_type,omitempty"`
	AcquisitionOptimizerType string `json:"acquisition_optimizer_type,omitempty"`
	EvaluatorType            string `json:"evaluator_type,omitempty"`

	MaxIterations        int     `json:"max_iterations,omitempty"`
	BatchSize            int     `json:"batch_size,omitempty"`
	NumCores             int     `json:"num_cores,omitempty"`
	InitialDesignNumData int     `json:"initial_design_numdata,omitempty"`
	Eps                  float64 `json:"eps,omitempty"`
	Maximize             bool    `json:"maximize,omitempty"`
	ExactFeval           bool    `json:"exact_feval,omitempty"`
	DeDuplication        bool    `json:"de_duplication,omitempty"`
	RandomSeed           int64   `json:"random_seed,omitempty"`
}

// options translates the request into validated run options over the
// resolved benchmark.
func (s *Server) options(req *optimizeRequest) (bo.Options, bo.Objective, error) {
	if req.Objective == "" {
		return bo.Options{}, nil, errors.New("objective is required")
	}
	bench, ok := benchmarks.Lookup(req.Objective, req.Dimensions)
	if !ok {
		return bo.Options{}, nil, fmt.Errorf("unknown objective %q", req.Objective)
	}

	opts := bo.DefaultOptions()
	opts.Domain = bench.Domain
	opts.MaxIterations = s.cfg.Optimization.DefaultMaxIterations
	opts.InitialDesignNumData = s.cfg.Optimization.DefaultInitialPoints

	if len(req.Domain) > 0 {
		domain := make([]bo.Variable, len(req.Domain))
		for i, v := range req.Domain {
			name := v.Name
			if name == "" {
				name = fmt.Sprintf("x%d", i+1)
			}
			kind := bo.VarKind(v.Type)
			if v.Type == "" {
				kind = bo.Continuous
			}
			domain[i] = bo.Variable{Name: name, Kind: kind, Min: v.Min, Max: v.Max, Values: v.Values}
		}
		opts.Domain = domain
	}

	if req.ModelType != "" {
		opts.ModelType = req.ModelType
	}
	if req.AcquisitionType != "" {
		opts.AcquisitionType = req.AcquisitionType
	}
	if req.AcquisitionOptimizerType != "" {
		opts.AcquisitionOptimizerType = req.AcquisitionOptimizerType
	}
	if req.EvaluatorType != "" {
		opts.EvaluatorType = req.EvaluatorType
	}
	if req.MaxIterations > 0 {
		opts.MaxIterations = req.MaxIterations
	}
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	if req.NumCores > 0 {
		opts.NumCores = req.NumCores
	}
	if req.InitialDesignNumData > 0 {
		opts.InitialDesignNumData = req.InitialDesignNumData
	}
	opts.Eps = req.Eps
	opts.Maximize = req.Maximize
	opts.ExactFeval = req.ExactFeval
	opts.DeDuplication = req.DeDuplication
	opts.RandomSeed = req.RandomSeed

	return opts, bench.F, nil
}

// start validates the request, registers a job and launches its run.
func (s *Server) start(req *optimizeRequest) (map[string]interface{}, error) {
	opts, objective, err := s.options(req)
	if err != nil {
		return nil, err
	}

	var hooks bo.Hooks
	if s.metrics != nil {
		hooks = s.metrics.Hooks()
	}
	driver, err := registry.NewDriver(opts, objective, s.logger, hooks)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:          "opt_" + uuid.NewString(),
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		driver:      driver,
		cancel:      cancel,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	go s.run(ctx, job)

	return map[string]interface{}{
		"optimization_id": job.ID,
		"status":          job.Status,
	}, nil
}

// run executes a job under the concurrency cap and records its terminal
// state.
func (s *Server) run(ctx context.Context, job *Job) {
	s.slots <- struct{}{}
	defer func() { <-s.slots }()

	s.setStatus(job, "running")
	if s.metrics != nil {
		s.metrics.JobStarted()
	}

	result, err := job.driver.Run(ctx)

	status := "completed"
	switch {
	case ctx.Err() != nil:
		status = "cancelled"
	case err != nil:
		status = "failed"
		s.logger.Error("optimization failed",
			zap.String("optimization_id", job.ID),
			zap.Error(err))
	}

	s.mu.Lock()
	job.Status = status
	job.result = result
	job.err = err
	now := time.Now()
	job.EndTime = &now
	job.LastUpdated = now
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.JobFinished(status)
	}
}

func (s *Server) setStatus(job *Job, status string) {
	s.mu.Lock()
	job.Status = status
	job.LastUpdated = time.Now()
	s.mu.Unlock()
}

// status reports a job's progress, best observation and history.
func (s *Server) status(id string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("optimization not found")
	}

	response := map[string]interface{}{
		"status":      job.Status,
		"start_time":  job.StartTime.Format(time.RFC3339),
		"last_update": job.LastUpdated.Format(time.RFC3339),
	}
	if job.EndTime != nil {
		response["end_time"] = job.EndTime.Format(time.RFC3339)
	}
	if job.err != nil {
		response["error"] = job.err.Error()
	}

	if job.result != nil {
		response["result"] = job.result
	} else if best, ok := job.driver.Best(); ok {
		// The run is still going; surface the live best and history.
		response["current_best"] = best
		response["history"] = job.driver.History()
	}
	return response, nil
}

// cancelJob requests cancellation of a running job.
func (s *Server) cancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("optimization not found")
	}
	switch job.Status {
	case "completed", "failed", "cancelled":
		return fmt.Errorf("cannot cancel optimization with status: %s", job.Status)
	}
	job.cancel()
	job.LastUpdated = time.Now()

	s.logger.Info("optimization cancellation requested",
		zap.String("optimization_id", id))
	return nil
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      interface{}       `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, -32700, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, -32600, "Invalid Request", nil)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		var req optimizeRequest
		if err = decodeParam(request.Params, &req); err == nil {
			result, err = s.start(&req)
		}
	case "optimization.status":
		var p struct {
			OptimizationID string `json:"optimization_id"`
		}
		if err = decodeParam(request.Params, &p); err == nil {
			result, err = s.status(p.OptimizationID)
		}
	case "optimization.cancel":
		var p struct {
			OptimizationID string `json:"optimization_id"`
		}
		if err = decodeParam(request.Params, &p); err == nil {
			err = s.cancelJob(p.OptimizationID)
		}
	default:
		s.respondWithError(w, -32601, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, -32000, err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func decodeParam(params []json.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return errors.New("missing required parameters")
	}
	return json.Unmarshal(params[0], dst)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("request error",
		zap.Int("code", code),
		zap.String("message", message))

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	result, err := s.start(&req)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := s.status(id)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.cancelJob(id)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "cancellation requested"})
}

// Close cancels all running jobs.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.cancel != nil {
			job.cancel()
		}
	}
	return nil
}
