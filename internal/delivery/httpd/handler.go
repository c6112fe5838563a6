package httpd

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/railgunhq/railgun/internal/service"
	"github.com/railgunhq/railgun/internal/worker"
)

// Health bundles the liveness probes of the backing systems. Nil probes
// are reported as healthy so partial deployments can still expose /health.
type Health struct {
	PingDB      func(ctx context.Context) error
	PingMQ      func() bool
	PingStorage func(ctx context.Context) error
	Stats       func() worker.WorkerStats
	StartTime   time.Time
}

type Handler struct {
	handinService     service.HandinService
	submissionService service.SubmissionService
	commKey           []byte
	health            Health
	logger            zerolog.Logger
}

func NewHandler(
	handinService service.HandinService,
	submissionService service.SubmissionService,
	commKey string,
	health Health,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		handinService:     handinService,
		submissionService: submissionService,
		commKey:           []byte(commKey),
		health:            health,
		logger:            logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)

	// Runner API: encrypted, plain-text replies. The prefix and trailing
	// slashes match the paths the reporting client addresses under its
	// configured base URL.
	router.Route("/api", func(api chi.Router) {
		api.Post("/handin/start/{uuid}/", h.secretAPI(h.StartHandin))
		api.Post("/handin/report/{uuid}/", h.secretAPI(h.ReportHandin))
		api.Post("/handin/proclog/{uuid}/", h.secretAPI(h.ProclogHandin))

		// Website API
		api.Route("/v1", func(v1 chi.Router) {
			v1.Route("/homeworks", func(r chi.Router) {
				r.Get("/", h.ListHomeworks)
				r.Get("/{hwid}", h.GetHomework)
				r.Post("/{hwid}/handins", h.SubmitArchive)
				r.Post("/{hwid}/netapi", h.SubmitAddress)
				r.Post("/{hwid}/csvdata", h.SubmitData)
			})
			v1.Route("/handins", func(r chi.Router) {
				r.Get("/{uuid}", h.GetHandin)
				r.Get("/", h.ListHandins)
			})
		})
	})
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"success": true,
		"data":    data,
	}
	writeJSON(w, http.StatusOK, response)
}
