package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/warden/internal/bot"
	"github.com/iamwavecut/warden/internal/classifier"
	"github.com/iamwavecut/warden/internal/config"
	"github.com/iamwavecut/warden/internal/db/sqlite"
	"github.com/iamwavecut/warden/internal/event"
	"github.com/iamwavecut/warden/internal/eventspace"
	"github.com/iamwavecut/warden/internal/infra"
	"github.com/iamwavecut/warden/internal/lease"
	"github.com/iamwavecut/warden/internal/lifecycle"
	"github.com/iamwavecut/warden/internal/moderation"
	"github.com/iamwavecut/warden/internal/observability"
	"github.com/iamwavecut/warden/internal/platform/rest"
	"github.com/iamwavecut/warden/internal/reconcile"
)

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.WdnFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go infra.GoRecoverable(-1, "runtime", func() {
		if err := run(ctx, cfg); err != nil {
			log.WithError(err).Errorln("runtime failed")
			time.Sleep(1 * time.Second)
			log.Fatalln("exiting")
		}
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-infra.MonitorExecutable(ctx):
		log.Errorln("executable file was modified")
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Infoln("shutting down")
	}
	cancel()
	time.Sleep(1 * time.Second)
	os.Exit(0)
}

func run(ctx context.Context, cfg config.Config) error {
	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		return err
	}

	dataDir, err := infra.EnsureDataDir(cfg.DotPath)
	if err != nil {
		return err
	}
	dbClient, err := sqlite.NewSQLiteClient(ctx, dataDir, "warden.db")
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.WithError(err).Errorln("cant close db")
		}
	}()

	policy, err := loadPolicy(cfg.Moderation)
	if err != nil {
		return err
	}
	judge, err := classifier.New(cfg.LLM, log.WithField("context", "classifier"))
	if err != nil {
		return err
	}

	adapter := rest.NewClient(cfg.PlatformAPIURL, cfg.PlatformToken)
	leases := lease.NewRegistry()

	escalation := moderation.NewService(dbClient, adapter, policy, cfg.Moderation.Window, leases)
	spaces := eventspace.NewManager(dbClient, adapter, leases, cfg.Lifecycle.MaxConsecutiveFailures)
	sweeper := reconcile.NewService(escalation, spaces, dbClient, cfg.Reconcile.Interval, cfg.Reconcile.Grace)

	dispatcher := bot.NewDispatcher(cfg, escalation, spaces, sweeper, judge, adapter)
	pool := event.NewPool(cfg.Workers, cfg.QueueDepth, dispatcher.Dispatch)
	events, errs := rest.GetEventsChans(ctx, adapter, dbClient)
	botService := bot.NewService(pool, events, errs)

	runtime := lifecycle.NewRuntime(sweeper, botService)
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	// catch up on whatever happened while the bot was down
	sweeper.RunOnce(ctx)
	log.Infoln("warden is up")

	<-ctx.Done()
	return runtime.Stop()
}

func loadPolicy(cfg config.Moderation) (*moderation.Policy, error) {
	if cfg.PolicyPath != "" {
		return moderation.LoadPolicyFile(cfg.PolicyPath)
	}
	return moderation.ParsePolicy(cfg.Policy)
}
