// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

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

	"github.com/ffutop/modbus-rtu-slave/internal/config"
	"github.com/ffutop/modbus-rtu-slave/internal/metrics"
	"github.com/ffutop/modbus-rtu-slave/internal/slave"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/seed"
	"github.com/ffutop/modbus-rtu-slave/transport"
	"github.com/ffutop/modbus-rtu-slave/transport/rtu"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modbus-rtu-slave",
		Short: "Modbus RTU slave serving in-memory register tables",
		Long: `Serve coils, discrete inputs, holding registers and input registers
to a Modbus master over a serial line.

Settings come from the config file, MODBUS_RTU_* environment variables and
flags, in increasing priority.`,
		Example: `  modbus-rtu-slave -p /dev/ttyUSB0 -s 9600 --parity E --slave-ids 1,2
  modbus-rtu-slave --config slave.yaml --seed tables.yaml -v debug`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			setupLogger(cfg.Log)
			return run(cmd.Context(), cfg)
		},
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	config.RegisterFlags(cmd.Flags())
	cmd.AddCommand(newImageCmd())
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting Modbus RTU slave...")

	ids, err := cfg.Slave.IDs()
	if err != nil {
		return err
	}
	m, err := buildModel(cfg.Slave)
	if err != nil {
		return err
	}
	sl := slave.NewSlave(m)
	sl.ID = ids[0]
	sl.DeviceName = cfg.Slave.DeviceName

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mx *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		mx = metrics.New()
		srv := startMetricsServer(cfg.Metrics.Listen, mx)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var upstream transport.Upstream = rtu.NewServer(cfg.Serial, ids, mx)
	if err := upstream.Start(ctx, sl.Handle); err != nil {
		return fmt.Errorf("RTU slave stopped: %w", err)
	}
	slog.Info("Goodbye.")
	return nil
}

// buildModel allocates the tables and applies the seed, if any.
func buildModel(cfg config.SlaveConfig) (*model.DataModel, error) {
	m := model.NewDataModel(cfg.Sizes())
	if cfg.Seed == "" {
		return m, nil
	}
	if err := seed.Open(cfg.Seed).Apply(m); err != nil {
		return nil, fmt.Errorf("failed to seed tables from %s: %w", cfg.Seed, err)
	}
	slog.Info("Seeded register tables", "path", cfg.Seed)
	return m, nil
}

func startMetricsServer(addr string, mx *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mx.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("Metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "err", err)
		}
	}()
	return srv
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
