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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/triage/internal/store"
)

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently recorded results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{trace: flags.trace, needStore: true})
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.history(ctx, limit)
			if err != nil {
				return err
			}
			if flags.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			return printHistory(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")
	return cmd
}

// history lists recent records. When Redis is configured the list is
// cached under the stale tag, so completing a session drops it.
func (a *app) history(ctx context.Context, limit int) ([]store.Record, error) {
	key := fmt.Sprintf("history:%d", limit)

	if a.cache != nil {
		data, ok, err := a.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("history cache read failed", "error", err)
		}
		if ok {
			var records []store.Record
			if err := json.Unmarshal(data, &records); err == nil {
				slog.Debug("history served from cache", "key", key)
				return records, nil
			}
		}
	}

	records, err := a.store.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	if a.cache != nil {
		data, err := json.Marshal(records)
		if err == nil {
			err = a.cache.Put(ctx, a.cfg.StaleTag, key, data)
		}
		if err != nil {
			slog.Warn("history cache write failed", "error", err)
		}
	}
	return records, nil
}

func printHistory(w io.Writer, records []store.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tACTION\tLABEL\tSOURCE\tUPDATED\tREASONING")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.EmailID, r.Action, r.Classification, r.Source,
			r.UpdatedAt.Local().Format(time.DateTime), truncate(r.Reasoning, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
