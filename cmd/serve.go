package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Rupam798/VideoConferencing/internal/config"
	"github.com/Rupam798/VideoConferencing/internal/hub"
	"github.com/Rupam798/VideoConferencing/internal/server"
	"github.com/Rupam798/VideoConferencing/internal/signaling"
	"github.com/Rupam798/VideoConferencing/internal/ui"
)

const shutdownTimeout = 10 * time.Second

var (
	flagListen string
	flagRedis  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Long: `Run the websocket signaling server that relays connection setup and
participant state between call members. Media never passes through it.

Messages for participants that have not joined yet are held in memory, or in
Redis when --redis is set so they survive a restart.

Examples:
  warpcall serve
  warpcall serve --listen :9000 --redis localhost:6379`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Options{
			ListenAddr: flagListen,
			RedisAddr:  flagRedis,
		})
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "address to listen on")
	serveCmd.Flags().StringVar(&flagRedis, "redis", "", "Redis address for held messages")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.Default()

	opts := []signaling.RelayOption{
		signaling.WithTTL(cfg.PendingTTL),
		signaling.WithLogger(log),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		opts = append(opts, signaling.WithPendingStore(signaling.NewRedisStore(rdb)))
		log.Info("holding messages in redis", "addr", cfg.RedisAddr)
	}

	h := hub.New(signaling.NewMemoryRelay(opts...), log)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		h.Run(ctx)
	}()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewRouter(h, server.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	ui.PrintInfof("Signaling server listening on %s", cfg.ListenAddr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	stop()
	<-hubDone
	return err
}
