// Package api exposes the services over HTTP. Every JSON response uses the
// envelope {"code", "message", "data"}; chat answers stream as server-sent
// events.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"juris/internal/auth"
	"juris/internal/chat"
	"juris/internal/config"
	"juris/internal/export"
	"juris/internal/knowledge"
	"juris/internal/logging"
	"juris/internal/share"
	"juris/internal/storage"
	"juris/internal/store"

	"github.com/julienschmidt/httprouter"
)

const shutdownTimeout = 15 * time.Second

type params = httprouter.Params

// handlerFunc is a route handler. A returned error is written as the
// response; handlers that already wrote return nil.
type handlerFunc func(w http.ResponseWriter, r *http.Request, p params) error

// Deps are the services behind the API.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Auth      *auth.Service
	Chat      *chat.Service
	Files     *storage.Service
	Knowledge *knowledge.Service
	Shares    *share.Service
	Exporter  *export.Exporter
	Metrics   *Metrics
}

// Server routes requests to the services.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	auth      *auth.Service
	chat      *chat.Service
	files     *storage.Service
	knowledge *knowledge.Service
	shares    *share.Service
	exporter  *export.Exporter
	metrics   *Metrics

	router  *httprouter.Router
	handler http.Handler
}

// New builds the server and its routes. A nil Metrics gets a fresh registry.
func New(d Deps) *Server {
	if d.Config == nil {
		d.Config = config.DefaultConfig()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	s := &Server{
		cfg:       d.Config,
		store:     d.Store,
		auth:      d.Auth,
		chat:      d.Chat,
		files:     d.Files,
		knowledge: d.Knowledge,
		shares:    d.Shares,
		exporter:  d.Exporter,
		metrics:   d.Metrics,
		router:    httprouter.New(),
	}
	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "no such endpoint")
	})
	s.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.routes()

	var h http.Handler = s.router
	h = cors(s.cfg.Server.CORSOrigins)(h)
	h = recoverer(h)
	h = accessLog(h)
	h = withRequestID(h)
	s.handler = h
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) routes() {
	const api = "/api"
	pub, priv := s.public, s.private

	pub(http.MethodPost, api+"/auth/register", s.handleRegister)
	pub(http.MethodPost, api+"/auth/login", s.handleLogin)
	pub(http.MethodPost, api+"/auth/refresh", s.handleRefresh)
	priv(http.MethodPost, api+"/auth/logout", s.handleLogout)
	priv(http.MethodGet, api+"/auth/me", s.handleMe)
	priv(http.MethodPut, api+"/auth/password", s.handleChangePassword)
	priv(http.MethodPut, api+"/auth/profile", s.handleUpdateProfile)

	priv(http.MethodGet, api+"/personas", s.handlePersonas)

	priv(http.MethodGet, api+"/conversations", s.handleListConversations)
	priv(http.MethodPost, api+"/conversations", s.handleCreateConversation)
	priv(http.MethodGet, api+"/conversations/:id", s.handleGetConversation)
	priv(http.MethodPatch, api+"/conversations/:id", s.handleUpdateConversation)
	priv(http.MethodDelete, api+"/conversations/:id", s.handleDeleteConversation)
	priv(http.MethodGet, api+"/conversations/:id/messages", s.handleMessages)
	priv(http.MethodGet, api+"/conversations/:id/export", s.handleExportConversation)

	priv(http.MethodPost, api+"/chat/stream", s.handleChatStream)
	priv(http.MethodPost, api+"/chat/stop", s.handleChatStop)

	priv(http.MethodPost, api+"/files", s.handleUpload)
	priv(http.MethodGet, api+"/files", s.handleListFiles)
	priv(http.MethodGet, api+"/files/:id", s.handleDownload)
	priv(http.MethodDelete, api+"/files/:id", s.handleDeleteFile)

	priv(http.MethodGet, api+"/kb", s.handleListBases)
	priv(http.MethodPost, api+"/kb", s.handleCreateBase)
	priv(http.MethodGet, api+"/kb/:id", s.handleGetBase)
	priv(http.MethodPatch, api+"/kb/:id", s.handleUpdateBase)
	priv(http.MethodDelete, api+"/kb/:id", s.handleDeleteBase)
	priv(http.MethodGet, api+"/kb/:id/documents", s.handleListDocuments)
	priv(http.MethodPost, api+"/kb/:id/documents", s.handleAddDocument)
	priv(http.MethodDelete, api+"/kb/:id/documents/:docId", s.handleDeleteDocument)
	priv(http.MethodPost, api+"/kb/:id/search", s.handleSearch)

	priv(http.MethodPost, api+"/shares", s.handleCreateShare)
	priv(http.MethodGet, api+"/shares", s.handleListShares)
	priv(http.MethodDelete, api+"/shares/:token", s.handleRevokeShare)
	pub(http.MethodGet, api+"/public/shares/:token", s.handleResolveShare)

	priv(http.MethodPost, api+"/export/:format", s.handleExportMarkdown)

	pub(http.MethodGet, "/healthz", s.handleHealth)
	s.router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
}

func (s *Server) public(method, path string, h handlerFunc) {
	s.router.Handle(method, path, s.instrument(path, h))
}

func (s *Server) private(method, path string, h handlerFunc) {
	s.router.Handle(method, path, s.instrument(path, s.authenticate(h)))
}

// instrument adapts h to httprouter, writes returned errors and records
// metrics under the route pattern.
func (s *Server) instrument(route string, h handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		if err := h(rec, r, p); err != nil {
			if rec.status != 0 {
				logging.APIError("rid=%s %s %s failed after response started: %v", requestID(r.Context()), r.Method, r.URL.Path, err)
			} else {
				writeError(rec, r, err)
			}
		}
		s.metrics.observe(route, r.Method, rec.code(), time.Since(start))
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
	}

	errc := make(chan error, 1)
	go func() {
		logging.Boot("HTTP server listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logging.Boot("Shutting down HTTP server")
	// Shutdown waits for handlers, and a stream handler only returns once
	// its answer ends.
	if s.chat != nil {
		if n := s.chat.Stops().StopAll(); n > 0 {
			logging.Boot("Stopped %d active answers", n)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
