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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/antflydb/cicada/lib/assets"
	"github.com/antflydb/cicada/lib/backends"
	"github.com/antflydb/cicada/lib/transducer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <encoder.onnx>",
	Short: "Show the metadata of an encoder and the architecture it declares",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

type inspectResult struct {
	Path         string                  `json:"path"`
	Architecture string                  `json:"architecture"`
	Metadata     *backends.ModelMetadata `json:"metadata"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	cfg := registryConfig()
	sessions, err := sessionFactory(&cfg)
	if err != nil {
		return err
	}

	buf, err := assets.ReadFile(assetFs(), args[0])
	if err != nil {
		return err
	}

	sess, err := sessions.CreateSession(buf,
		backends.WithSessionThreads(1),
		backends.WithSessionGPUMode(backends.GPUModeOff))
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	md := sess.Metadata()
	if err := sess.Close(); err != nil {
		logger.Warn("Error closing session", zap.Error(err))
	}

	inspector := transducer.NewSessionInspector(sessions, logger.Named("inspector"))
	arch, err := inspector.DetectArchitecture(buf, viper.GetBool("debug"))
	if err != nil {
		return err
	}

	res := inspectResult{Path: args[0], Architecture: arch.String(), Metadata: md}
	if jsonOut {
		return printJSON(os.Stdout, res)
	}

	fmt.Printf("Path:          %s\n", res.Path)
	fmt.Printf("Architecture:  %s\n", res.Architecture)
	if md == nil {
		return nil
	}
	fmt.Printf("Producer:      %s\n", md.ProducerName)
	fmt.Printf("Graph:         %s\n", md.GraphName)
	fmt.Printf("Version:       %d\n", md.Version)
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tVALUE")
	for _, k := range md.Keys() {
		v, _ := md.Lookup(k)
		_, _ = fmt.Fprintf(w, "%s\t%s\n", k, v)
	}
	return w.Flush()
}
