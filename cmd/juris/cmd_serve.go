package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"juris/internal/agent"
	"juris/internal/api"
	"juris/internal/auth"
	"juris/internal/chat"
	"juris/internal/config"
	"juris/internal/embedding"
	"juris/internal/export"
	"juris/internal/knowledge"
	"juris/internal/llm"
	"juris/internal/logging"
	"juris/internal/share"
	"juris/internal/storage"
	"juris/internal/store"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	sessionPurgeInterval  = time.Hour
	embeddingCheckTimeout = 5 * time.Second
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Starts the HTTP API and blocks until SIGINT or SIGTERM. Active answers
are stopped and saved before the listener shuts down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			return c.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// services is the fully wired application.
type services struct {
	store     *store.Store
	registry  *agent.Registry
	auth      *auth.Service
	chat      *chat.Service
	files     *storage.Service
	knowledge *knowledge.Service
	shares    *share.Service
	exporter  *export.Exporter

	closers []io.Closer
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			logging.BootWarn("Close failed: %v", err)
		}
	}
}

// openServices builds every service from cfg. The caller closes the
// result.
func openServices(ctx context.Context, cfg *config.Config) (_ *services, err error) {
	timer := logging.StartTimer(logging.CategoryBoot, "openServices")
	defer timer.Stop()

	s := &services{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.store, err = store.Open(cfg.Database.Path); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.store)

	sessions, err := auth.NewSessionStore(cfg.Auth, s.store)
	if err != nil {
		return nil, err
	}
	if cl, ok := sessions.(io.Closer); ok {
		s.closers = append(s.closers, cl)
	}
	if s.auth, err = auth.NewService(s.store, cfg.Auth, sessions); err != nil {
		return nil, err
	}

	bucket, err := storage.NewBucket(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if cl, ok := bucket.(io.Closer); ok {
		s.closers = append(s.closers, cl)
	}
	s.files = storage.NewService(s.store, bucket, cfg.Server.MaxUploadBytes, cfg.Storage.AllowedExtensions)

	engine, err := embedding.NewEngine(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	hctx, cancel := context.WithTimeout(ctx, embeddingCheckTimeout)
	if herr := embedding.CheckHealth(hctx, engine); herr != nil {
		logging.BootWarn("Embedding backend not ready, indexing will fail until it is: %v", herr)
	}
	cancel()
	s.knowledge = knowledge.NewService(s.store, s.files, engine, knowledge.Options{})

	if s.registry, err = loadRegistry(cfg); err != nil {
		return nil, err
	}
	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	runner := agent.NewRunner(client, s.registry, cfg.Chat.HistoryWindow)
	s.chat = chat.NewService(s.store, runner, s.knowledge, chat.Options{
		RetrievalTopK: cfg.Chat.RetrievalTopK,
		TitleTimeout:  cfg.GetTitleTimeout(),
	})

	s.shares = share.NewService(s.store, cfg.GetShareMaxTTL())
	s.exporter = export.New(cfg.Export.BrowserBin, cfg.GetPDFTimeout())
	return s, nil
}

func loadRegistry(cfg *config.Config) (*agent.Registry, error) {
	registry := agent.NewRegistry()
	if cfg.Personas.Path == "" {
		return registry, nil
	}
	if err := registry.Load(cfg.Personas.Path); err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}
	return registry, nil
}

func (c *cli) runServe(ctx context.Context) error {
	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := api.New(api.Deps{
		Config:    cfg,
		Store:     svc.store,
		Auth:      svc.auth,
		Chat:      svc.chat,
		Files:     svc.files,
		Knowledge: svc.knowledge,
		Shares:    svc.shares,
		Exporter:  svc.exporter,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, cfg.Server.Addr)
	})
	g.Go(func() error {
		return svc.auth.RunSessionJanitor(gctx, sessionPurgeInterval)
	})
	if cfg.Personas.Path != "" && cfg.Personas.Watch {
		g.Go(func() error {
			if err := svc.registry.Watch(gctx); err != nil {
				logging.AgentWarn("Persona watcher stopped: %v", err)
			}
			return nil
		})
	}

	err = g.Wait()
	// Title generation may still be writing to the store.
	svc.chat.Wait()
	logging.Boot("Server stopped")
	return err
}
