package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/trpg-tools/lorekeeper/internal/chat"
	"github.com/trpg-tools/lorekeeper/internal/config"
	"github.com/trpg-tools/lorekeeper/internal/entity"
	"github.com/trpg-tools/lorekeeper/internal/gemini"
	"github.com/trpg-tools/lorekeeper/internal/keyring"
	"github.com/trpg-tools/lorekeeper/internal/observability"
	"github.com/trpg-tools/lorekeeper/internal/project"
	"github.com/trpg-tools/lorekeeper/internal/subprompt"
)

// Credentials is the keyring surface the server needs; *keyring.Store
// satisfies it and tests substitute an in-memory fake.
type Credentials interface {
	Save(secret string) (bool, string)
	Get() (string, error)
	Delete() (bool, string)
}

type Server struct {
	cfg        config.Config
	state      *gemini.State
	manager    *chat.Manager
	projects   *project.Manager
	entities   *entity.Store
	subprompts *subprompt.Store
	creds      Credentials
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
	static     http.Handler

	// The chat manager is single-threaded by contract: at most one
	// in-flight send, serialized here.
	chatMu sync.Mutex
}

func New(
	cfg config.Config,
	state *gemini.State,
	manager *chat.Manager,
	projects *project.Manager,
	entities *entity.Store,
	subprompts *subprompt.Store,
	creds Credentials,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:        cfg,
		state:      state,
		manager:    manager,
		projects:   projects,
		entities:   entities,
		subprompts: subprompts,
		creds:      creds,
		metrics:    metrics,
		static:     newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin, so other websites cannot drive the campaign
				// session if the tool is ever exposed beyond localhost.
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

	r.Get("/v1/config", s.handleGetConfig)
	r.Put("/v1/config", s.handlePutConfig)

	r.Put("/v1/credential", s.handlePutCredential)
	r.Get("/v1/credential/status", s.handleCredentialStatus)
	r.Delete("/v1/credential", s.handleDeleteCredential)

	r.Get("/v1/projects", s.handleListProjects)
	r.Post("/v1/projects", s.handleCreateProject)
	r.Delete("/v1/projects/{id}", s.handleDeleteProject)
	r.Get("/v1/projects/{id}/settings", s.handleGetProjectSettings)
	r.Put("/v1/projects/{id}/settings", s.handlePutProjectSettings)
	r.Get("/v1/projects/{id}/subprompts", s.handleGetSubprompts)
	r.Put("/v1/projects/{id}/subprompts", s.handlePutSubprompts)
	r.Put("/v1/projects/{id}/subprompts/{category}/{name}", s.handleSetSubprompt)
	r.Delete("/v1/projects/{id}/subprompts/{category}/{name}", s.handleDeleteSubprompt)

	r.Get("/v1/projects/{id}/categories", s.handleListCategories)
	r.Post("/v1/projects/{id}/categories", s.handleCreateCategory)
	r.Get("/v1/projects/{id}/categories/{category}/items", s.handleListItems)
	r.Post("/v1/projects/{id}/categories/{category}/items", s.handleAddItem)
	r.Get("/v1/projects/{id}/categories/{category}/items/{itemID}", s.handleGetItem)
	r.Patch("/v1/projects/{id}/categories/{category}/items/{itemID}", s.handleUpdateItem)
	r.Delete("/v1/projects/{id}/categories/{category}/items/{itemID}", s.handleDeleteItem)
	r.Post("/v1/projects/{id}/categories/{category}/items/{itemID}/history", s.handleAddItemHistory)
	r.Put("/v1/projects/{id}/categories/{category}/items/{itemID}/tags", s.handleUpdateItemTags)
	r.Get("/v1/projects/{id}/search", s.handleSearchItems)

	r.Post("/v1/chat/session", s.handleChatSession)
	r.Post("/v1/chat/messages", s.handleChatSend)
	r.Post("/v1/chat/clear", s.handleChatClear)
	r.Put("/v1/chat/settings", s.handleChatSettings)
	r.Get("/v1/chat/history", s.handleChatHistory)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Post("/v1/generate", s.handleGenerate)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.chatMu.Lock()
	active := s.manager.SessionActive()
	s.chatMu.Unlock()

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"configured":     s.state.Configured(),
		"session_active": active,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.projects.LoadGlobalConfig()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "config_load_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.projects.LoadGlobalConfig()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "config_load_failed", err.Error())
		return
	}
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.projects.SaveGlobalConfig(cfg); err != nil {
		respondError(w, http.StatusInternalServerError, "config_save_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

type credentialResponse struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	Configured bool   `json:"configured"`
}

// handlePutCredential stores the Gemini key in the OS keyring and
// reconfigures the adapter. An empty key deletes the stored credential.
func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ok, msg := s.creds.Save(req.APIKey)
	if ok && strings.TrimSpace(req.APIKey) != "" {
		if configured, cmsg := s.state.Configure(req.APIKey); configured {
			s.chatMu.Lock()
			s.manager.StartSession(r.Context(), chat.StartOptions{KeepHistory: true, ReloadIfEmpty: true})
			s.chatMu.Unlock()
		} else {
			msg = cmsg
		}
	}
	respondJSON(w, http.StatusOK, credentialResponse{
		OK:         ok,
		Message:    msg,
		Configured: s.state.Configured(),
	})
}

func (s *Server) handleCredentialStatus(w http.ResponseWriter, _ *http.Request) {
	stored, err := s.creds.Get()
	if err != nil {
		code := "keyring_error"
		if errors.Is(err, keyring.ErrNoService) {
			code = "keyring_unavailable"
		}
		respondError(w, http.StatusInternalServerError, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"stored":     stored != "",
		"configured": s.state.Configured(),
	})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, _ *http.Request) {
	ok, msg := s.creds.Delete()
	respondJSON(w, http.StatusOK, credentialResponse{
		OK:         ok,
		Message:    msg,
		Configured: s.state.Configured(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
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

// respondChatError maps chat failure kinds onto HTTP statuses:
// configuration 409, validation 400, transport 502.
func respondChatError(w http.ResponseWriter, err error) {
	switch chat.ErrorKind(err) {
	case chat.KindConfiguration:
		respondError(w, http.StatusConflict, "not_configured", err.Error())
	case chat.KindValidation:
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case chat.KindTransport:
		code := "provider_error"
		if chat.IsBlocked(err) {
			code = "content_blocked"
		}
		respondError(w, http.StatusBadGateway, code, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
