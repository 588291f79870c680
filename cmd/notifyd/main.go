package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifyd/notifyd/internal/adapter"
	emailadapter "github.com/notifyd/notifyd/internal/adapter/email"
	inappadapter "github.com/notifyd/notifyd/internal/adapter/inapp"
	pushadapter "github.com/notifyd/notifyd/internal/adapter/push"
	smsadapter "github.com/notifyd/notifyd/internal/adapter/sms"
	attachhandler "github.com/notifyd/notifyd/internal/api/handlers/attachment"
	notifhandler "github.com/notifyd/notifyd/internal/api/handlers/notification"
	"github.com/notifyd/notifyd/internal/api/router"
	"github.com/notifyd/notifyd/internal/api/server"
	"github.com/notifyd/notifyd/internal/attachment"
	"github.com/notifyd/notifyd/internal/config"
	"github.com/notifyd/notifyd/internal/engine"
	notifmsg "github.com/notifyd/notifyd/internal/rabbitmq/handlers/notification"
	"github.com/notifyd/notifyd/internal/rabbitmq/queue"
	"github.com/notifyd/notifyd/internal/registry"
	notifrepo "github.com/notifyd/notifyd/internal/repository/notification"
	"github.com/notifyd/notifyd/internal/template"
	"github.com/notifyd/notifyd/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
	}

	q, err := queue.NewTriggerQueue(ch)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create trigger queue")
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	repo := notifrepo.NewRepository(db)

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database)
	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	adapters := []adapter.Adapter{
		emailadapter.New(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.Username,
			cfg.Email.Password,
			cfg.Email.From,
		),
		smsadapter.New(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber),
		pushadapter.New(cfg.Push.GatewayURL, cfg.Push.APIKey),
		inappadapter.New(db),
	}

	reg := registry.New()
	// The default context passes the stored parameters straight into the
	// template. Deployments register richer generators here.
	reg.Register("params", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		if params == nil {
			params = map[string]any{}
		}
		return params, nil
	})

	renderer := template.NewRenderer(template.NewDirStore(cfg.Templates.Dir))
	attachments := attachment.NewStore(db, cfg.Attachments.Dir)

	eng := engine.New(repo, q, adapters, reg, renderer, attachments, rdb)

	notifHandler := notifhandler.NewHandler(eng, val, cfg)
	attachHandler := attachhandler.NewHandler(attachments)
	messageHandler := notifmsg.NewHandler(eng)

	notifier := worker.NewNotifier(q, messageHandler, eng)
	go notifier.Run(ctx, cfg.Retry, cfg.Workers.Count)

	poller := worker.NewPoller(eng, cfg.Poller.Interval, cfg.Poller.Concurrency)
	go poller.Run(ctx, cfg.Retry)

	r := router.New(notifHandler, attachHandler)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}

	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := ch.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
	}

	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
	}
}
