package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/ad2ctl/internal/archive"
	"codeberg.org/mutker/ad2ctl/internal/config"
	"codeberg.org/mutker/ad2ctl/internal/control"
	"codeberg.org/mutker/ad2ctl/internal/device"
	"codeberg.org/mutker/ad2ctl/internal/errors"
	"codeberg.org/mutker/ad2ctl/internal/history"
	"codeberg.org/mutker/ad2ctl/internal/logger"
	"codeberg.org/mutker/ad2ctl/internal/pid"
	"codeberg.org/mutker/ad2ctl/internal/transport"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}

	err := run()

	if rmErr := pid.Remove(); rmErr != nil {
		logger.Error().Err(rmErr).Msg("failed to remove PID file")
	}

	if err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("ad2ctl stopped with error")
		} else {
			logger.Error().Err(err).Msg("ad2ctl stopped with error")
		}
		os.Exit(1)
	}

	logger.Info().Msg("Exiting...")
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	historyCfg := history.DefaultConfig()
	historyCfg.Enabled = cfg.History
	historyCfg.DBPath = cfg.HistoryDB

	collector, err := history.NewService(historyCfg, logger.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close session history")
		}
	}()

	conn, err := transport.Dial(ctx, transport.Config{
		URL:          cfg.PeerURL,
		Attempts:     cfg.DialAttempts,
		Interval:     cfg.DialInterval,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer conn.Close()

	newDevice := func() (device.Device, error) {
		return device.New(cfg.Driver)
	}

	ctl := control.New(conn, newDevice, control.Config{
		RecordDir:    cfg.RecordDir,
		SamplePeriod: cfg.SamplePeriod,
		Settings: device.Settings{
			Amplitude:   cfg.Amplitude,
			Offset:      cfg.Offset,
			InputRange:  cfg.InputRange,
			WindowSize:  cfg.WindowSize,
			SampleRate:  cfg.SampleRate(),
			SettleDelay: cfg.SettleDelay,
		},
	},
		control.WithHistory(collector),
		control.WithArchiver(archive.New(cfg.Archive)),
	)

	logger.Info().
		Str("driver", cfg.Driver).
		Int("window_size", cfg.WindowSize).
		Dur("sample_period", cfg.SamplePeriod).
		Float64("sample_rate", cfg.SampleRate()).
		Str("record_dir", cfg.RecordDir).
		Msg("ad2ctl started")

	return ctl.Run(ctx)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
