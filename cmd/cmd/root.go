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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/antflydb/cicada"
	"github.com/antflydb/cicada/lib/assets"
	"github.com/antflydb/cicada/lib/backends"
	"github.com/antflydb/cicada/lib/transducer"
	gojson "github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Version is set by main from the release build flags.
var Version = "dev"

var (
	cfgFile   string
	jsonOut   bool
	modelsDir string
)

var rootCmd = &cobra.Command{
	Use:   "cicada",
	Short: "Load and inspect streaming transducer ASR models",
	Long: `cicada loads streaming (online) transducer speech-recognition models
exported to ONNX. It resolves each model's encoder architecture (conformer,
ebranchformer, lstm, zipformer, zipformer2) from configuration or from the
metadata embedded in the encoder, and manages loaded models.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./cicada.yaml or $HOME/.cicada/cicada.yaml)")
	pf.StringVar(&modelsDir, "models-dir", defaultModelsDir(), "directory containing transducer models")
	pf.BoolVar(&jsonOut, "json", false, "print results as JSON")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-style", "terminal", "log style (terminal, json, logfmt, noop)")
	pf.StringSlice("backend-priority", []string{"onnx"}, "inference backends in order of preference")
	pf.Int("num-threads", 0, "intra-op threads per model session (0 = auto)")
	pf.String("provider", "cpu", "execution provider (cpu, cuda, coreml, auto)")
	pf.Bool("prefer-int8", false, "prefer int8-quantized networks when available")
	pf.Bool("debug", false, "dump encoder metadata while resolving architectures")
	pf.String("keep-alive", "5m", "how long unused models stay loaded (0 = forever)")
	pf.Int("max-loaded-models", 0, "maximum number of loaded models (0 = unlimited)")
	pf.String("bundle-root", "", "read model files from this read-only root; paths are relative to it")

	mustBindPFlag("models_dir", pf.Lookup("models-dir"))
	mustBindPFlag("log.level", pf.Lookup("log-level"))
	mustBindPFlag("log.style", pf.Lookup("log-style"))
	mustBindPFlag("backend_priority", pf.Lookup("backend-priority"))
	mustBindPFlag("num_threads", pf.Lookup("num-threads"))
	mustBindPFlag("provider", pf.Lookup("provider"))
	mustBindPFlag("prefer_int8", pf.Lookup("prefer-int8"))
	mustBindPFlag("debug", pf.Lookup("debug"))
	mustBindPFlag("keep_alive", pf.Lookup("keep-alive"))
	mustBindPFlag("max_loaded_models", pf.Lookup("max-loaded-models"))
	mustBindPFlag("bundle_root", pf.Lookup("bundle-root"))
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cicada")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".cicada"))
		}
	}

	viper.SetEnvPrefix("CICADA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: reading config: %v\n", err)
		}
	}
}

func defaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(home, ".cicada", "models")
}

func newLogger() *zap.Logger {
	return logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
}

// registryConfig builds the registry configuration from viper.
func registryConfig() cicada.Config {
	return cicada.Config{
		ModelsDir:       viper.GetString("models_dir"),
		BackendPriority: viper.GetStringSlice("backend_priority"),
		KeepAlive:       viper.GetString("keep_alive"),
		MaxLoadedModels: viper.GetInt("max_loaded_models"),
		NumThreads:      viper.GetInt("num_threads"),
		Provider:        viper.GetString("provider"),
		Debug:           viper.GetBool("debug"),
		PreferInt8:      viper.GetBool("prefer_int8"),
		Preload:         viper.GetStringSlice("preload"),
	}
}

// sessionFactory selects the inference backend according to cfg.
func sessionFactory(cfg *cicada.Config) (backends.SessionFactory, error) {
	if err := cfg.ApplyBackendPriority(); err != nil {
		return nil, err
	}
	return backends.DefaultSessionFactory()
}

// assetFs returns the filesystem model files are read from: the bundle root
// when one is configured, otherwise the local filesystem.
func assetFs() afero.Fs {
	if root := viper.GetString("bundle_root"); root != "" {
		return assets.NewRootFs(root)
	}
	return afero.NewOsFs()
}

func newLoader(cfg *cicada.Config, logger *zap.Logger) (*transducer.Loader, error) {
	sessions, err := sessionFactory(cfg)
	if err != nil {
		return nil, err
	}
	return cicada.NewInstrumentedLoader(sessions, logger.Named("loader")), nil
}

func printJSON(w io.Writer, v any) error {
	enc := gojson.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
