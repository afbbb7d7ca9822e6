// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tapestry",
	Short: "Tapestry - multi-agent research orchestration runtime",
	Long: `Tapestry runs a Principal agent that decomposes a research goal into
work modules, dispatches parallel Associate agents against them, and
aggregates their deliverables into a final report.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tapestry.yaml)")

	rootCmd.PersistentFlags().String("profiles", "profiles", "agent profile directory")
	rootCmd.PersistentFlags().String("llm-configs", "profiles/llm_configs.yaml", "LLM config file")
	rootCmd.PersistentFlags().String("principal", "Principal", "Principal profile name")

	rootCmd.PersistentFlags().Int("max-turns", 64, "max turns per flow")
	rootCmd.PersistentFlags().Int("max-children", 4, "max concurrent Associate flows per dispatch")
	rootCmd.PersistentFlags().Int("wall-clock-timeout-ms", 0, "run wall-clock cap in ms (0=unbounded)")
	rootCmd.PersistentFlags().String("state-dump", "", "dump terminal run state to this path (.json or .db)")
	rootCmd.PersistentFlags().String("report-dir", "", "also write final reports to this directory")

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("profiles.dir", rootCmd.PersistentFlags().Lookup("profiles"))
	_ = viper.BindPFlag("profiles.llm_configs", rootCmd.PersistentFlags().Lookup("llm-configs"))
	_ = viper.BindPFlag("run.principal_profile", rootCmd.PersistentFlags().Lookup("principal"))

	_ = viper.BindPFlag("run.max_turns_per_flow", rootCmd.PersistentFlags().Lookup("max-turns"))
	_ = viper.BindPFlag("run.max_concurrent_child_flows", rootCmd.PersistentFlags().Lookup("max-children"))
	_ = viper.BindPFlag("run.wall_clock_timeout_ms", rootCmd.PersistentFlags().Lookup("wall-clock-timeout-ms"))
	_ = viper.BindPFlag("run.state_dump_path", rootCmd.PersistentFlags().Lookup("state-dump"))
	_ = viper.BindPFlag("run.report_dir", rootCmd.PersistentFlags().Lookup("report-dir"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("tapestry")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/tapestry")
	}
	viper.SetEnvPrefix("TAPESTRY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
}

// buildLogger creates the process logger from viper settings.
func buildLogger() *zap.Logger {
	var zapConfig zap.Config
	if viper.GetString("logging.format") == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	logLevel := zap.InfoLevel
	if lvl := viper.GetString("logging.level"); lvl != "" {
		if err := logLevel.UnmarshalText([]byte(lvl)); err != nil {
			log.Printf("Invalid log level %q, using INFO: %v", lvl, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}
