package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/pulsectl/internal/config"
	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/journal"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"codeberg.org/mutker/pulsectl/internal/metrics"
	"codeberg.org/mutker/pulsectl/internal/pid"
	"codeberg.org/mutker/pulsectl/internal/publish"
	"codeberg.org/mutker/pulsectl/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds the final disconnect after a signal.
const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the device and stream metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.WithFlags(cmd.Flags()))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.LogLevel.String(), logger.IsService()); err != nil {
		return err
	}
	log := logger.New("main")
	log.Debug().Str("config_file", cfg.File).Msg("Config loaded")

	pidFile := pid.New(cfg.PIDFile)
	if err := pidFile.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	recorder, err := journal.NewService(cfg.JournalConfig(), logger.New("journal"))
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close journal")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.New(reg)
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithLogger(logger.New("session")),
		session.WithCollector(collector),
		session.WithRecorder(recorder),
	}

	dispatcher, err := publish.Open(ctx, cfg.PublishConfig(), logger.New("publish"))
	if err != nil {
		return err
	}
	if dispatcher != nil {
		defer func() {
			if err := dispatcher.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close publishers")
			}
		}()
		opts = append(opts, session.WithPublisher(dispatcher))
	}

	sess, err := session.New(sessionCfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sess.Disconnect(stopCtx)
		log.Info().Msg("Exiting...")
	}()

	if err := start(ctx, sess); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(cfg.Metrics.Listen, reg, logger.New("metrics"))
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	g.Go(func() error {
		return supervise(gctx, sess, cfg.Metrics.StatusInterval, log)
	})

	return g.Wait()
}

func start(ctx context.Context, sess *session.Session) error {
	if err := sess.Connect(ctx); err != nil {
		return err
	}
	return sess.StartStreaming(ctx)
}

// supervise logs the latest snapshot every interval and reconnects a session
// whose backend failed. A zero interval disables both.
func supervise(ctx context.Context, sess *session.Session, interval time.Duration, log logger.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status := sess.Status()
			if status.State == session.Error {
				log.Warn().Str("last_error", status.LastError).Msg("Session failed, reconnecting")
				if err := start(ctx, sess); err != nil {
					var appErr errors.Error
					if errors.As(err, &appErr) {
						log.WarnWithCode(appErr).Msg("Reconnect failed")
					} else {
						log.Warn().Err(err).Msg("Reconnect failed")
					}
				}
				continue
			}
			logStatus(sess, status, log)
		}
	}
}

func logStatus(sess *session.Session, status session.Status, log logger.Logger) {
	snap, ok := sess.GetSnapshot()
	if !ok {
		log.Info().
			Str("state", status.State.String()).
			Str("backend", string(status.Backend)).
			Msg("Waiting for first snapshot")
		return
	}

	log.Info().
		Str("state", status.State.String()).
		Str("backend", string(status.Backend)).
		Str("status", string(snap.Status)).
		Float64("heart_rate", snap.HeartRate).
		Str("heart_rate_source", string(snap.HeartRateSource)).
		Float64("sdnn", snap.HRV.SDNN).
		Float64("rmssd", snap.HRV.RMSSD).
		Float64("stress", snap.StressScore).
		Float64("eda", snap.EDALevel).
		Float64("temperature", snap.Temperature).
		Int("alerts", len(snap.Alerts)).
		Uint64("frames", status.Counts.Frames).
		Uint64("protocol_errors", status.Counts.ProtocolErrors).
		Msg("Status")
}
