package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/config"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/feed"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/observability"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/settings"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/status"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/tasks"
)

type Server struct {
	cfg        config.Config
	registry   *tasks.Registry
	aggregator *status.Aggregator
	feed       *feed.Feed
	settings   *settings.Store
	storeMode  string
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	static     http.Handler
}

func New(cfg config.Config, registry *tasks.Registry, aggregator *status.Aggregator, f *feed.Feed, settingsStore *settings.Store, storeMode string, log zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		aggregator: aggregator,
		feed:       f,
		settings:   settingsStore,
		storeMode:  storeMode,
		log:        log.With().Str("component", "httpapi").Logger(),
		static:     newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/api/status", s.handleGetStatus)
	r.Get("/api/status/stream", s.handleStatusStream)
	r.Get("/api/status/ws", s.handleStatusWS)

	r.Get("/api/tasks", s.handleListTasks)
	r.Post("/api/tasks", s.handleCreateTask)
	r.Put("/api/tasks/{id}", s.handleUpdateTask)
	r.Delete("/api/tasks/{id}", s.handleDeleteTask)
	r.Post("/api/tasks/{id}/execute", s.handleExecuteTask)
	r.Post("/api/tasks/reconcile", s.handleReconcile)

	r.Get("/api/config/api-key", s.handleGetAPIKey)
	r.Post("/api/config/api-key", s.handleSetAPIKey)
	r.Post("/api/config/api-key/test", s.handleTestAPIKey)
	r.Get("/api/config/management-groups", s.handleListGroups)
	r.Post("/api/config/management-groups", s.handleAddGroup)
	r.Delete("/api/config/management-groups", s.handleRemoveGroup)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode,
	})
}

type errorResponse struct {
	Error          string   `json:"error"`
	Code           string   `json:"code"`
	ConflictingIDs []string `json:"conflicting_ids,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondTaskError maps registry errors onto the HTTP taxonomy: validation
// 400, absent id 404, name conflict 409.
func respondTaskError(w http.ResponseWriter, err error) {
	var verr *tasks.ValidationError
	if errors.As(err, &verr) {
		respondError(w, http.StatusBadRequest, "validation_failed", verr.Error())
		return
	}
	if errors.Is(err, tasks.ErrNotFound) {
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	var dup *tasks.DuplicateTaskError
	if errors.As(err, &dup) {
		respondJSON(w, http.StatusConflict, errorResponse{
			Error:          dup.Error(),
			Code:           "duplicate_task_name",
			ConflictingIDs: dup.ConflictingIDs,
		})
		return
	}
	respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
