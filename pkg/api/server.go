// Package api serves the dispatch core over HTTP: command submission,
// module listing and probing, history reads, and a WebSocket update feed.
// Identity is resolved by the surrounding system's session provider; this
// server never authenticates upstream identity itself.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/veslabs/maestro/pkg/config"
	"github.com/veslabs/maestro/pkg/dispatch"
	"github.com/veslabs/maestro/pkg/history"
	"github.com/veslabs/maestro/pkg/identity"
	"github.com/veslabs/maestro/pkg/logger"
	"github.com/veslabs/maestro/pkg/module"
	"github.com/veslabs/maestro/pkg/notify"
	"github.com/veslabs/maestro/pkg/settings"
)

// Server is the HTTP API server for the dispatch core.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	historyDB  history.Store
	settings   *settings.Store
	hub        *notify.Hub
	sessions   identity.Provider
	server     *http.Server
	startTime  time.Time
}

// NewServer wires the API server. An empty gateway API key is replaced with
// a random per-session key, logged once at startup.
func NewServer(
	cfg *config.Config,
	dispatcher *dispatch.Dispatcher,
	historyDB history.Store,
	settingsStore *settings.Store,
	hub *notify.Hub,
	sessions identity.Provider,
) *Server {
	if cfg.Gateway.APIKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			cfg.Gateway.APIKey = hex.EncodeToString(raw)
			logger.InfoCF("api", "Generated session API key (set gateway.api_key to make it permanent)", map[string]interface{}{
				"api_key": cfg.Gateway.APIKey,
			})
		}
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		historyDB:  historyDB,
		settings:   settingsStore,
		hub:        hub,
		sessions:   sessions,
		startTime:  time.Now(),
	}
}

// Start begins listening on the configured host:port until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/command", s.auth(s.handleCommand))
	mux.HandleFunc("/api/modules", s.auth(s.handleModules))
	mux.HandleFunc("/api/modules/probe", s.auth(s.handleProbe))
	mux.HandleFunc("/api/history", s.auth(s.handleHistory))
	mux.HandleFunc("/ws", s.auth(s.handleWS))

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("api", "API server listening", map[string]interface{}{"addr": addr})
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// auth checks the gateway API key and resolves the caller's session into a
// UserContext stashed on the request context.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != s.cfg.Gateway.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}

		cred := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		session, err := s.sessions.Resolve(r.Context(), cred)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session not recognized")
			return
		}

		ctx := withUser(r.Context(), identity.UserContextFrom(session))
		next(w, r.WithContext(ctx))
	}
}

type userCtxKey struct{}

func withUser(ctx context.Context, user *module.UserContext) context.Context {
	return context.WithValue(ctx, userCtxKey{}, user)
}

func userFrom(ctx context.Context) *module.UserContext {
	user, _ := ctx.Value(userCtxKey{}).(*module.UserContext)
	return user
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).String(),
		"modules": s.dispatcher.Registry().Count(),
	})
}

// commandRequest is the POST /api/command payload.
type commandRequest struct {
	Input           string `json:"input"`
	PreferredModule string `json:"preferred_module,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input required")
		return
	}

	user := userFrom(r.Context())
	resp, err := s.dispatcher.ProcessCommand(r.Context(), req.Input, user, req.PreferredModule)
	status := http.StatusOK
	if err != nil {
		// Fatal dispatch failure: full detail is already logged inside the
		// dispatcher; the caller only ever sees the generic response.
		status = http.StatusInternalServerError
	}
	s.appendHistory(r.Context(), user, req.Input, resp)
	writeJSON(w, status, resp)
}

func (s *Server) appendHistory(ctx context.Context, user *module.UserContext, input string, resp *module.Response) {
	if s.historyDB == nil || user == nil || resp == nil {
		return
	}
	moduleID, _ := resp.Metadata[module.MetaModuleID].(string)
	err := s.historyDB.Append(ctx, history.Entry{
		UserID:   user.UserID,
		Command:  input,
		Response: resp.Message,
		ModuleID: moduleID,
		Success:  resp.Success,
	})
	if err != nil {
		logger.WarnCF("api", "History append failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	descriptors := s.dispatcher.ListModules()
	if s.settings != nil {
		kept := descriptors[:0]
		for _, d := range descriptors {
			if s.settings.IsEnabled(d.ID) {
				kept = append(kept, d)
			}
		}
		descriptors = kept
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"modules": descriptors})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	input := r.URL.Query().Get("input")
	if strings.TrimSpace(input) == "" {
		writeError(w, http.StatusBadRequest, "input query parameter required")
		return
	}
	desc, confidence, ok := s.dispatcher.FindBestModule(r.Context(), input, userFrom(r.Context()))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"module": nil, "confidence": 0.0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"module": desc, "confidence": confidence})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.historyDB == nil {
		writeError(w, http.StatusNotFound, "history store not configured")
		return
	}
	user := userFrom(r.Context())
	count := 10
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}
	entries, err := s.historyDB.GetRecentHistory(r.Context(), user.UserID, count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}
