/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command entitymarkers keeps marker sets of filtered world entities
// up to date.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Comcast/entitymarkers/assets"
	"github.com/Comcast/entitymarkers/config"
	"github.com/Comcast/entitymarkers/filter"
	"github.com/Comcast/entitymarkers/world"
)

var (
	verbose  bool
	confFile string

	// Overrides for the configuration file.
	targetDir string
	worldDir  string
	webRoot   string
	listen    string
	interval  time.Duration

	conf   *config.Conf
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "entitymarkers",
	Short: "Marker sets for filtered world entities",
	Long: `entitymarkers periodically scans the entities of each configured
target's world, evaluates them against the target's filter sets, and
rebuilds one marker set per filter set.

Target documents live in the target directory, one per target:
"overworld.yaml" configures target "overworld".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lc := zap.NewProductionConfig()
		if verbose {
			lc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		if logger, err = lc.Build(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if conf, err = config.ReadConf(confFile); err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("targets") {
			conf.TargetDir = targetDir
		}
		if flags.Changed("worlds") {
			conf.WorldDir = worldDir
		}
		if flags.Changed("webroot") {
			conf.WebRoot = webRoot
		}
		if flags.Changed("listen") {
			conf.Listen = listen
		}
		if flags.Changed("interval") {
			conf.Interval = config.Duration(interval)
		}
		return conf.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.StringVarP(&confFile, "config", "c", "entitymarkers.yaml", "daemon configuration file")
	pf.StringVar(&targetDir, "targets", "", "directory of target documents")
	pf.StringVar(&worldDir, "worlds", "", "directory of entity dumps")
	pf.StringVar(&webRoot, "webroot", "", "web root for icon checks")
	pf.StringVar(&listen, "listen", "", "HTTP address (empty disables)")
	pf.DurationVar(&interval, "interval", 0, "tick interval")

	rootCmd.AddCommand(runCmd, checkCmd, tickCmd, renderCmd)
}

// env is what filter compilation needs.
func env() *filter.Env {
	var store assets.Store = assets.Any{}
	if conf.WebRoot != "" {
		store = &assets.Dir{WebRoot: conf.WebRoot}
	}
	return &filter.Env{
		Catalog:       world.DefaultCatalog,
		Assets:        store,
		ScriptTimeout: conf.ScriptTimeout.D(),
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
