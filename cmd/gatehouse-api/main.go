package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/credential"
	"gatehouse.org/internal/delivery"
	"gatehouse.org/internal/directory"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/notify"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backends groups the storage chosen by configuration.
type backends struct {
	credentials credential.Store
	deliveries  delivery.Store
	accessLog   audit.Log
	residents   interface {
		directory.Directory
		directory.Lister
	}
	ready httpapi.ReadyChecker
	close func() error
}

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("gatehouse-api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := obs.NewLogger(os.Stdout, cfg.LogLevel)
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackends(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.close(); err != nil {
			logger.Warn("close storage", "error", err)
		}
	}()

	hub := notify.NewHub()
	sink, closeSinks, err := buildSinks(ctx, cfg.Notify, logger, hub)
	if err != nil {
		return err
	}
	defer closeSinks()
	dispatcher := notify.NewDispatcher(sink,
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithDeliveryTimeout(cfg.Notify.Timeout),
		notify.WithLogger(logger),
	)

	tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return fmt.Errorf("token signer: %w", err)
	}

	credentials := credential.NewManager(be.credentials,
		credential.WithEmitter(dispatcher),
		credential.WithAccessLog(be.accessLog),
		credential.WithLogger(logger),
	)
	deliveries := delivery.NewManager(be.deliveries,
		delivery.WithEmitter(dispatcher),
		delivery.WithDirectory(be.residents),
		delivery.WithLogger(logger),
	)

	api := httpapi.New(httpapi.Deps{
		Credentials: credentials,
		Deliveries:  deliveries,
		AccessLog:   audit.NewReader(be.accessLog),
		Residents:   be.residents,
		Tokens:      tokens,
		Events:      hub,
		Ready:       be.ready,
	}, version,
		httpapi.WithLogger(logger),
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins...),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithConsumeRate(cfg.RateLimit.ConsumeRPS, cfg.RateLimit.ConsumeBurst),
	)
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	// Event streams never go idle on their own.
	srv.RegisterOnShutdown(api.Close)

	grpcServer := grpc.NewServer()
	health := httpapi.NewHealthServer(be.ready)
	health.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return health.Watch(gctx, 10*time.Second) })
	g.Go(func() error {
		logger.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	if cfg.GRPC.Addr != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			logger.Info("grpc listening", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped", "events_dropped", dispatcher.Dropped())
	return nil
}

func openBackends(cfg config.Config) (*backends, error) {
	var fileDir *directory.Static
	if cfg.DirectoryFile != "" {
		var err error
		if fileDir, err = directory.LoadFile(cfg.DirectoryFile); err != nil {
			return nil, fmt.Errorf("load resident directory: %w", err)
		}
	}

	if cfg.Storage.Driver == config.StoragePostgres {
		store, err := pg.Open(cfg.Storage.DSN, pg.Pool{
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		be := &backends{
			credentials: store.Credentials(),
			deliveries:  store.Deliveries(),
			accessLog:   store.AccessLog(),
			residents:   store.Residents(),
			ready:       store,
			close:       store.Close,
		}
		if fileDir != nil {
			be.residents = fileDir
		}
		return be, nil
	}

	if fileDir == nil {
		fileDir = directory.NewStatic()
	}
	return &backends{
		credentials: credential.NewMemoryStore(),
		deliveries:  delivery.NewMemoryStore(),
		accessLog:   audit.NewMemoryLog(),
		residents:   fileDir,
		ready:       httpapi.ReadyFunc(func(context.Context) error { return nil }),
		close:       func() error { return nil },
	}, nil
}

// buildSinks fans events out to the hub plus every configured transport.
func buildSinks(ctx context.Context, cfg config.Notify, logger *slog.Logger, hub *notify.Hub) (notify.Sink, func(), error) {
	sinks := notify.MultiSink{hub}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Log {
		sinks = append(sinks, notify.LogSink{Logger: logger})
	}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, closeAll, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() { _ = client.Close() })
		sinks = append(sinks, notify.NewRedisStreamSink(client, cfg.Redis.Stream, cfg.Redis.MaxLen))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("kafka client: %w", err)
		}
		closers = append(closers, kafka.Close)
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := kafka.EnsureTopic(ensureCtx, 1, 1); err != nil {
			logger.Warn("kafka topic check failed, events may be dropped", "topic", cfg.Kafka.Topic, "error", err)
		}
		sinks = append(sinks, kafka)
	}
	return sinks, closeAll, nil
}
