package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/handlers"
)

type Options struct {
	// Auth wraps every /api route. Nil leaves the API open.
	Auth func(http.Handler) http.Handler
	// Metrics is served on MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	// UploadDir enables POST /api/upload/file when set.
	UploadDir      string
	UploadMaxBytes int64
}

// NewRouter sets up the API routes.
func NewRouter(svc handlers.Service, logger zerolog.Logger, opts Options) *mux.Router {
	health := handlers.NewHealthHandler(svc)
	connectors := handlers.NewConnectorHandler(svc)
	jobs := handlers.NewJobHandler(svc, logger)
	executions := handlers.NewExecutionHandler(svc, logger)
	sched := handlers.NewSchedulerHandler(svc, logger)

	router := mux.NewRouter()

	router.HandleFunc("/health", health.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/connectors", connectors.List).Methods(http.MethodGet)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, opts.Metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	if opts.Auth != nil {
		api.Use(mux.MiddlewareFunc(opts.Auth))
	}

	api.HandleFunc("/jobs", jobs.CreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", jobs.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}", jobs.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}", jobs.UpdateJob).Methods(http.MethodPut)
	api.HandleFunc("/jobs/{jobID}", jobs.DeleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{jobID}/execute", jobs.RunJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/history", jobs.JobHistory).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}/sink/objects", jobs.SinkObjects).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}/sink/preview", jobs.SinkPreview).Methods(http.MethodGet)

	api.HandleFunc("/history", executions.ListHistory).Methods(http.MethodGet)
	api.HandleFunc("/executions/{executionID}", executions.GetExecution).Methods(http.MethodGet)
	api.HandleFunc("/executions/{executionID}/logs", executions.GetLogs).Methods(http.MethodGet)

	if opts.UploadDir != "" {
		uploads := handlers.NewUploadHandler(opts.UploadDir, opts.UploadMaxBytes, logger)
		api.HandleFunc("/upload/file", uploads.UploadFile).Methods(http.MethodPost)
	}

	api.HandleFunc("/scheduler/jobs", sched.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/pause", sched.Pause).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/resume", sched.Resume).Methods(http.MethodPost)

	return router
}
