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
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teradata-labs/tapestry/pkg/server"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve runs over HTTP with SSE event streams",
	Long: `Start the HTTP server. POST /v1/runs starts a run; its events
stream from GET /v1/runs/{id}/events as server-sent events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":5100", "HTTP listen address")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	defer func() { _ = logger.Sync() }()

	a, err := buildApp(logger)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Addr:   viper.GetString("server.addr"),
		NewRun: a.newRun,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting tapestry server",
		zap.String("addr", viper.GetString("server.addr")),
		zap.String("principal", a.principal),
		zap.Strings("associates", a.associates),
	)
	return srv.Start(ctx)
}
