package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/linkwell/linkwell/internal/auth"
	"github.com/linkwell/linkwell/internal/chat"
	"github.com/linkwell/linkwell/internal/config"
	"github.com/linkwell/linkwell/internal/httpapi"
	"github.com/linkwell/linkwell/internal/logging"
	"github.com/linkwell/linkwell/internal/realtime"
	"github.com/linkwell/linkwell/store"
	"github.com/linkwell/linkwell/store/conversation"
	"github.com/linkwell/linkwell/store/message"
	"github.com/linkwell/linkwell/store/user"

	_ "github.com/lib/pq"
)

var addr = flag.String("addr", "", "http service address (overrides http.addr)")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

type stores struct {
	conversations conversation.Store
	messages      message.Store
	users         user.Store
	locker        chat.Locker
	close         func() error
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.Store.Driver == config.DriverMemory {
		logger.Warn("using in-memory stores; data is lost on exit")
		convos := conversation.NewMemoryStore()
		return &stores{
			conversations: convos,
			messages:      message.NewMemoryStore(convos),
			users:         user.NewMemoryStore(),
			close:         func() error { return nil },
		}, nil
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.MaxLife)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("connected to database")

	return &stores{
		conversations: conversation.NewSQLStore(db),
		messages:      message.NewSQLStore(db),
		users:         user.NewSQLStore(db),
		locker:        store.NewAdvisoryLocker(db),
		close:         db.Close,
	}, nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("close database", zap.Error(err))
		}
	}()

	var (
		broker  realtime.Broker
		limiter httpapi.Limiter
	)
	if cfg.Redis.URL != "" {
		rb, err := realtime.NewRedisBroker(ctx, cfg.Redis.URL, cfg.Redis.Channel, logger)
		if err != nil {
			return err
		}
		broker = rb
		if cfg.RateLimit.SendPerSecond > 0 {
			limiter = httpapi.NewRedisLimiter(rb.Client(), cfg.RateLimit.SendPerSecond)
		}
		logger.Info("cross-instance relay enabled", zap.String("channel", cfg.Redis.Channel))
	} else if cfg.RateLimit.SendPerSecond > 0 {
		logger.Warn("ratelimit.send_per_second ignored without redis.url")
	}

	relay := realtime.NewRelay(realtime.NewDirectory(), st.conversations, realtime.Options{
		Broker:     broker,
		Logger:     logger.Named("relay"),
		SendBuffer: cfg.Realtime.SendBuffer,
	})
	if err := relay.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := relay.Close(); err != nil {
			logger.Warn("close relay", zap.Error(err))
		}
	}()

	authn := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	var chatOpts []chat.Option
	if st.locker != nil {
		chatOpts = append(chatOpts, chat.WithLocker(st.locker))
	}
	svc := chat.NewService(st.conversations, st.messages, relay, logger.Named("chat"), chatOpts...)
	ws := realtime.NewWSHandler(relay, authn, realtime.WSConfig{
		WriteWait:     cfg.Realtime.WriteWait,
		PongWait:      cfg.Realtime.PongWait,
		MaxFrameBytes: cfg.Realtime.MaxFrameBytes,
	}, logger.Named("ws"))

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Chat:     svc,
			Users:    st.users,
			Auth:     authn,
			Realtime: ws,
			Limiter:  limiter,
			Logger:   logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; the
	// deferred relay close ends them.
	return srv.Shutdown(shutdownCtx)
}
