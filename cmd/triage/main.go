// Copyright (c) 2026 John Earle
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

// Triage CLI
//
// Command-line client for the email triage API. It:
//  1. Loads configuration from .env, config.yaml and the environment
//  2. Streams a classification or reply draft for one email, printing
//     progress as events arrive (or calls the non-streaming endpoints)
//  3. Invalidates cached results in Redis when a result completes
//  4. Records final results in PostgreSQL for the history command
//  5. Cancels the open stream on SIGINT/SIGTERM
//
// Usage:
//
//	triage classify 42
//	triage draft 42 --force
//	triage history --limit 10
//	triage watch
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Persistent flags shared by every subcommand.
type rootFlags struct {
	trace    bool
	noStream bool
	jsonOut  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Classify emails and generate reply drafts through the triage API",
		Long: `triage drives the triage API for a single email: it streams the
agent's reasoning, the respond/notify/ignore decision and, for drafts, the
reply text as they are produced.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flags.trace)
		},
	}

	cmd.PersistentFlags().BoolVar(&flags.trace, "trace", false, "Log HTTP traffic and debug output")
	cmd.PersistentFlags().BoolVar(&flags.noStream, "no-stream", false, "Use the request/response endpoints instead of the event stream")
	cmd.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "Print results as JSON")

	cmd.AddCommand(newClassifyCmd(flags))
	cmd.AddCommand(newDraftCmd(flags))
	cmd.AddCommand(newHistoryCmd(flags))
	cmd.AddCommand(newWatchCmd(flags))

	return cmd
}

// setupLogging installs the structured JSON logger. Logs go to stderr so
// stdout carries only results.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func main() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
