package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/imghub/imghub/internal/cache"
	"github.com/imghub/imghub/internal/codec"
	"github.com/imghub/imghub/internal/config"
	"github.com/imghub/imghub/internal/metrics"
	"github.com/imghub/imghub/internal/pipeline"
	"github.com/imghub/imghub/internal/preflight"
	"github.com/imghub/imghub/internal/server"
	"github.com/imghub/imghub/internal/server/routes"
)

// service owns everything started for one server run.
type service struct {
	cfg       config.GlobalConfig
	logger    *logrus.Logger
	app       *fiber.App
	scheduler *server.Scheduler
	store     *cache.Cache
	lua       *preflight.LuaInvoker
	listeners []net.Listener
	stopWatch context.CancelFunc
}

// newService builds the server in dependency order: codecs, cache,
// preflight, scheduler, metrics, pipeline, routes, app and finally the
// listeners. Anything already started is released on failure.
func newService(cfg *config.Config, logger *logrus.Logger) (*service, error) {
	svc := &service{cfg: cfg.Global, logger: logger, stopWatch: func() {}}
	if err := svc.build(); err != nil {
		svc.release()
		return nil, err
	}
	return svc, nil
}

// build starts each part and records it on s so release can undo it.
func (s *service) build() error {
	g := s.cfg
	logger := s.logger
	var err error

	codecs := codec.NewDefaultRegistry(codec.Options{JPEGQuality: g.JPEGQuality})

	if g.CacheEnabled() {
		s.store, err = cache.Open(g.CacheDir, cache.Options{
			MaxSize:    int64(g.CacheSize),
			MaxFiles:   g.CacheNFiles,
			Hysteresis: g.CacheHysteresis,
		}, logger)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
	}

	var invoker preflight.Invoker = preflight.Static{}
	if g.InitScript != "" {
		s.lua, err = preflight.NewLuaInvoker(g.InitScript, g.NThreads, logger)
		if err != nil {
			return fmt.Errorf("load init script: %w", err)
		}
		watchCtx, cancel := context.WithCancel(context.Background())
		s.stopWatch = cancel
		if err := s.lua.Watch(watchCtx); err != nil {
			logger.WithFields(logrus.Fields{"action": "preflight_watch", "script": g.InitScript}).
				WithError(err).Warn("preflight_watch_disabled")
		}
		invoker = s.lua
	}

	s.scheduler, err = server.NewScheduler(g.NThreads, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	if s.store != nil {
		m.RegisterCache(s.store.Stats)
	}
	m.RegisterScheduler(s.scheduler)

	handler, err := pipeline.NewHandler(pipeline.Options{
		Logger: logger,
		Resolver: &pipeline.Resolver{
			Root:         g.ImgRoot,
			PrefixAsPath: g.PrefixAsPath,
			Levels:       g.SubdirLevels,
			Excludes:     g.SubdirExcludes,
		},
		Preflight: invoker,
		Codecs:    codecs,
		Cache:     s.store,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	table := server.NewRouteTable(nil)
	if err := table.Add(fiber.MethodGet, "/", handler.Serve); err != nil {
		return err
	}
	if err := routes.Register(table, routes.Options{
		Cache:     s.store,
		Scheduler: s.scheduler,
		Metrics:   m,
		DocRoot:   g.DocRoot,
		DocRoute:  g.DocRoute,
	}); err != nil {
		return err
	}

	s.app, err = server.NewApp(server.AppOptions{
		Logger:         logger,
		Routes:         table,
		Scheduler:      s.scheduler,
		KeepAlive:      g.KeepAlive.DurationValue(),
		MaxRequestBody: g.MaxRequestBody,
	})
	if err != nil {
		return err
	}

	return s.listen()
}

// listen binds the plain port and, when configured, the TLS port. Both
// listeners feed the same scheduler.
func (s *service) listen() error {
	plain, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.ListenPort, err)
	}
	s.listeners = append(s.listeners, s.scheduler.Listen(plain))

	if !s.cfg.TLSEnabled() {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.SSLCertificate, s.cfg.SSLKey)
	if err != nil {
		return fmt.Errorf("load certificate: %w", err)
	}
	raw, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.SSLPort))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.SSLPort, err)
	}
	secure := tls.NewListener(raw, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	s.listeners = append(s.listeners, s.scheduler.Listen(secure))
	return nil
}

// addrs lists the bound listener addresses, plain first.
func (s *service) addrs() []net.Addr {
	out := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		out = append(out, ln.Addr())
	}
	return out
}

// serve runs every listener until ctx is cancelled or one of them fails,
// then shuts the server down. A listener failure is returned.
func (s *service) serve(ctx context.Context) error {
	errCh := make(chan error, len(s.listeners))
	for _, ln := range s.listeners {
		s.logger.WithFields(logrus.Fields{
			"action": "listen",
			"addr":   ln.Addr().String(),
		}).Info("listener_started")
		go func(ln net.Listener) {
			errCh <- s.app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
		}(ln)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr == nil {
			serveErr = errors.New("listener stopped unexpectedly")
		}
		s.logger.WithFields(logrus.Fields{"action": "listen"}).WithError(serveErr).Error("listener_failed")
	}

	shutdownErr := s.shutdown()
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// shutdown closes the listeners and every open connection through the
// scheduler, lets the HTTP server wind down its workers within
// ShutdownTimeout, then releases the cache and preflight interpreters.
func (s *service) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.DurationValue())
	defer cancel()

	fields := logrus.Fields{"action": "shutdown"}
	s.logger.WithFields(fields).Info("shutdown_started")

	var errs []error
	if err := s.scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop http server: %w", err))
	}
	s.release()

	err := errors.Join(errs...)
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("shutdown_incomplete")
	} else {
		s.logger.WithFields(fields).Info("shutdown_complete")
	}
	return err
}

// release closes what newService opened apart from the HTTP side.
func (s *service) release() {
	s.stopWatch()
	for _, ln := range s.listeners {
		ln.Close()
	}
	if s.lua != nil {
		s.lua.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("cache_close_failed")
		}
	}
}
