// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/healthserver"
	"github.com/antflydb/cicada"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var healthPort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Preload models and serve health and metrics",
	Long: `Discover the models in the models directory, preload the configured
ones, and serve readiness and Prometheus metrics until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&healthPort, "health-port", 4210, "health/metrics server port")
	serveCmd.Flags().StringSlice("preload", nil, "models to load at startup")
	mustBindPFlag("health_port", serveCmd.Flags().Lookup("health-port"))
	mustBindPFlag("preload", serveCmd.Flags().Lookup("preload"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	if err := cicada.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	ready := &atomic.Bool{}
	healthserver.Start(logger, viper.GetInt("health_port"), ready.Load)

	cfg := registryConfig()
	loader, err := newLoader(&cfg, logger)
	if err != nil {
		return err
	}
	registry, err := cicada.NewModelRegistry(cfg, assetFs(), loader, logger.Named("registry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("Error closing model registry", zap.Error(err))
		}
	}()

	if len(cfg.Preload) > 0 {
		if err := registry.Preload(ctx, cfg.Preload); err != nil {
			return err
		}
	}

	ready.Store(true)
	logger.Info("Cicada is ready",
		zap.Strings("models", registry.List()),
		zap.Strings("loaded", registry.ListLoaded()))

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}
