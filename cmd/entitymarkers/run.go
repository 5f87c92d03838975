package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Comcast/entitymarkers/config"
	"github.com/Comcast/entitymarkers/marker"
	"github.com/Comcast/entitymarkers/marker/bolt"
	"github.com/Comcast/entitymarkers/marker/mqtt"
	"github.com/Comcast/entitymarkers/reconcile"
	"github.com/Comcast/entitymarkers/registry"
	"github.com/Comcast/entitymarkers/scheduler"
	"github.com/Comcast/entitymarkers/server"
	"github.com/Comcast/entitymarkers/world"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runDaemon(ctx)
	},
}

func runDaemon(ctx context.Context) error {
	var (
		started = time.Now()
		reg     = registry.New()
		backend = marker.NewMemory()
		pubs    = marker.NewPublishers(logger)
		loader  = config.NewLoader(conf.TargetDir, env(), logger)
		archive *bolt.Archive
	)
	backend.Fixed = true

	if conf.PublishDir != "" {
		if err := os.MkdirAll(conf.PublishDir, 0755); err != nil {
			return err
		}
		pubs.Add(marker.NewFilePublisher(conf.PublishDir))
	}

	if conf.Bolt != "" {
		archive = bolt.NewArchive(conf.Bolt, logger)
		if err := archive.Open(); err != nil {
			return err
		}
		defer archive.Close()
		pubs.Add(archive)
	}

	if conf.MQTT != nil {
		o := mqtt.Options{
			Broker:   conf.MQTT.Broker,
			ClientID: conf.MQTT.ClientID,
			Username: conf.MQTT.Username,
			Password: conf.MQTT.Password,
			Prefix:   conf.MQTT.Prefix,
			QoS:      conf.MQTT.QoS,
			Retain:   conf.MQTT.Retain,
			Timeout:  conf.MQTT.Timeout.D(),
			Quiesce:  250,
		}
		client, err := mqtt.Dial(o, logger)
		if err != nil {
			return err
		}
		defer client.Disconnect(o.Quiesce)
		pubs.Add(mqtt.New(client, o, logger))
	}

	reload := func() (*config.Report, error) {
		return loader.Reload(reg, func(report *config.Report) {
			backend.Sync(report.Targets)
			if archive != nil {
				if err := archive.Prune(report.Targets); err != nil {
					logger.Warn("archive prune failed", zap.Error(err))
				}
			}
		})
	}

	if _, err := reload(); err != nil {
		return err
	}
	if archive != nil {
		n, err := archive.Load(backend)
		if err != nil {
			logger.Warn("archive load failed", zap.Error(err))
		} else {
			logger.Info("restored archived marker sets", zap.Int("sets", n))
		}
	}

	builder := reconcile.NewBuilder(backend, pubs, logger)
	builder.EyeLevel = conf.EyeLevel

	cfg := scheduler.Config{
		Interval:    conf.Interval.D(),
		Cron:        conf.Cron,
		Concurrency: conf.Concurrency,
		Budget:      conf.Budget.D(),
		TickTimeout: conf.TickTimeout.D(),
		TickOnStart: conf.TickOnStart,
	}
	metrics := scheduler.NewMetrics(prometheus.DefaultRegisterer)
	sched, err := scheduler.New(cfg, reg, &world.Dir{Path: conf.WorldDir}, builder, logger, metrics)
	if err != nil {
		return err
	}

	reloadAndTick := func() (*config.Report, error) {
		report, err := reload()
		if err == nil {
			sched.Trigger()
		}
		return report, err
	}

	if conf.Watch {
		w, err := config.NewWatcher(conf.TargetDir, conf.Debounce.D(), logger)
		if err != nil {
			return err
		}
		if err = w.Start(ctx, func() {
			reloadAndTick()
		}); err != nil {
			return err
		}
		defer w.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)

	if conf.Listen != "" {
		srv := server.New(reg, backend, logger)
		srv.Reload = reloadAndTick
		srv.LastReport = sched.LastReport
		srv.Gatherer = prometheus.DefaultGatherer
		pubs.Add(srv.Hub)

		l, err := server.Listen(conf.Listen, conf.MaxConns)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return srv.Serve(ctx, l)
		})
	}

	g.Go(func() error {
		return sched.Run(ctx)
	})

	logger.Info("running", zap.Int("targets", reg.Snapshot().Len()))

	err = g.Wait()
	logger.Info("stopped", zap.Duration("uptime", time.Since(started)))
	return err
}
