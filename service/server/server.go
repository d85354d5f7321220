package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"herald/service/config"
	"herald/service/delivery"
	"herald/service/dispatch"
	"herald/service/subscription"
	"herald/service/util"
	"herald/service/vapid"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	cfg        *config.Config
	store      *subscription.Store
	signer     *vapid.Signer
	dispatcher *dispatch.Dispatcher
	retrier    *dispatch.Retrier
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server
	version    string
	startTime  time.Time
}

func New(cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	store, err := subscription.NewStore(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	signer, err := vapid.NewSigner(cfg.VAPIDPrivateKey, cfg.VAPIDSubject, cfg.VAPIDTokenTTL)
	if err != nil {
		_ = store.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to create VAPID signer: %w", err)
	}
	// A public key that drifted from the private key breaks every
	// browser subscription silently, so refuse to start.
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPublicKey != signer.PublicKey() {
		_ = store.Close() //nolint:errcheck
		return nil, fmt.Errorf("VAPID_PUBLIC_KEY does not match the key derived from VAPID_PRIVATE_KEY")
	}

	client := delivery.NewClient(signer, logger, delivery.Config{
		Timeout:        cfg.DeliveryTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	dispatcher := dispatch.NewDispatcher(client, logger, dispatch.Config{
		Concurrency: cfg.DispatchConcurrency,
	})
	retrier := dispatch.NewRetrier(dispatcher, logger, dispatch.RetrierConfig{})

	s := &Server{
		cfg:        cfg,
		store:      store,
		signer:     signer,
		dispatcher: dispatcher,
		retrier:    retrier,
		logger:     logger,
		version:    version,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.logger))
	r.Use(securityHeadersMiddleware())
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/push", func(r chi.Router) {
			r.With(rateLimitMiddleware(s.cfg.RateLimit)).Post("/subscribe", s.handleSubscribe)
			r.Get("/key", s.handlePublicKey)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware(s.cfg.APIKey))
				r.Post("/send", s.handleSend)
				r.Post("/broadcast", s.handleBroadcast)
				r.Post("/test", s.handleTest)
				r.Delete("/subscriptions/{subscriberID}", s.handleUnsubscribe)
			})
		})

		r.With(authMiddleware(s.cfg.APIKey)).Get("/health", s.handleHealth)
	})

	s.router = r
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	msg := fmt.Sprintf("Herald running on:\n  Local: http://localhost:%d", s.cfg.Port)
	if lanIP := util.GetLANIP(); lanIP != "" {
		msg += fmt.Sprintf("\n  Network: http://%s:%d", lanIP, s.cfg.Port)
	}
	s.logger.Info(msg)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	return nil
}
