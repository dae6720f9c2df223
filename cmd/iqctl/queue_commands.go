package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/service"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "init <site> <configuration>...",
		Short: "Fill the queue of a site from indexing configurations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _ := ctx.ensureApp(cmd.Context())
			site := args[0]
			if clear {
				if _, err := a.Service.ClearQueue(cmd.Context(), site); err != nil {
					return err
				}
			}
			initialized, err := a.Service.InitializeQueue(cmd.Context(), site, args[1:])
			if errors.Is(err, domain.ErrNoConfigurationSelected) {
				return fmt.Errorf("%w: pass one or more of %s", err, configurationNames(a.Service))
			}
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, initialized)
			}
			rows := make([][]string, 0, len(initialized))
			for _, ic := range initialized {
				rows = append(rows, []string{ic.Name, strconv.Itoa(ic.Inserted), strconv.Itoa(ic.Total)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Configuration", "Inserted", "Total"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove every queued item of the site first")
	return cmd
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var configuration string
	cmd := &cobra.Command{
		Use:   "stats <site>",
		Short: "Show queue statistics of a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _ := ctx.ensureApp(cmd.Context())
			site := args[0]

			if configuration != "" {
				st, err := a.Service.Statistics(cmd.Context(), site, configuration)
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, st)
				}
				fmt.Fprintln(cmd.OutOrStdout(), statsTable([]domain.ConfigurationStatistics{{Name: configuration, Statistics: *st}}))
				return nil
			}

			perCfg, err := a.Service.ConfigurationStatistics(cmd.Context(), site)
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, perCfg)
			}
			var total domain.ConfigurationStatistics
			total.Name = "all"
			for _, c := range perCfg {
				total.Total += c.Total
				total.Failed += c.Failed
				total.Pending += c.Pending
				total.Indexed += c.Indexed
			}
			fmt.Fprintln(cmd.OutOrStdout(), statsTable(append(perCfg, total)))
			return nil
		},
	}
	cmd.Flags().StringVar(&configuration, "configuration", "", "Restrict to one indexing configuration")
	return cmd
}

func statsTable(stats []domain.ConfigurationStatistics) string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.Name,
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Pending),
			strconv.Itoa(s.Indexed),
			strconv.Itoa(s.Failed),
		})
	}
	return renderTable(
		[]string{"Configuration", "Total", "Pending", "Indexed", "Failed"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

func newErrorsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "errors <site>",
		Short: "List queue items whose last dispatch failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _ := ctx.ensureApp(cmd.Context())
			items, err := a.Service.Errors(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No failed items")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{
					strconv.FormatInt(it.ID, 10),
					it.IndexingConfiguration,
					fmt.Sprintf("%s:%d", it.RecordTable, it.RecordUID),
					strconv.Itoa(it.ErrorCount),
					truncate(it.Errors, 80),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Configuration", "Record", "Attempts", "Error"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			a, _ := ctx.ensureApp(cmd.Context())
			item, err := a.Service.GetItem(cmd.Context(), id)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("queue item %d not found", id)
			}
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, item)
			}
			rows := [][]string{
				{"ID", strconv.FormatInt(item.ID, 10)},
				{"Site", item.Site},
				{"Record", fmt.Sprintf("%s:%d", item.RecordTable, item.RecordUID)},
				{"Page", strconv.FormatInt(item.RecordPageID, 10)},
				{"Configuration", item.IndexingConfiguration},
				{"Changed", formatTime(&item.Changed)},
				{"Indexed", formatTime(item.Indexed)},
				{"Pending", yesNo(item.IsPending())},
				{"Attempts failed", strconv.Itoa(item.ErrorCount)},
				{"Error", item.Errors},
			}
			if item.LeaseOwner != nil {
				rows = append(rows, []string{"Leased by", *item.LeaseOwner + " until " + formatTime(item.LeaseUntil)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <site>",
		Short: "Remove every queue item of a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _ := ctx.ensureApp(cmd.Context())
			n, err := a.Service.ClearQueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, map[string]any{"site": args[0], "deleted": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d items from %s\n", n, args[0])
			return nil
		},
	}
}

func newResetErrorsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-errors",
		Short: "Clear the error of every queue item on every site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _ := ctx.ensureApp(cmd.Context())
			n, err := a.Service.ResetAllErrors(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, map[string]any{"reset": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset errors on %d items\n", n)
			return nil
		},
	}
}

func newIndexCommand(ctx *commandContext) *cobra.Command {
	var max int
	cmd := &cobra.Command{
		Use:   "index <site>",
		Short: "Index pending items of a site now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _ := ctx.ensureApp(cmd.Context())
			run, err := a.Service.IndexItems(cmd.Context(), args[0], max)
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				if err := writeJSON(cmd, run); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Claimed %d, indexed %d, failed %d\n", run.Claimed, run.Indexed, run.Failed)
			}
			if !run.OK() {
				return fmt.Errorf("%d items failed; see `iqctl errors %s`", run.Failed, args[0])
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&max, "max", service.DefaultIndexBatchSize, fmt.Sprintf("Maximum number of items to index (at most %d)", service.MaxIndexBatchSize))
	return cmd
}

func newConfigurationsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "configurations",
		Short: "List the indexing configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _ := ctx.ensureApp(cmd.Context())
			configs := a.Service.Configurations()
			if ctx.jsonFlag {
				return writeJSON(cmd, configs)
			}
			rows := make([][]string, 0, len(configs))
			for _, c := range configs {
				rows = append(rows, []string{c.Name, c.Table})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Name", "Table"}, rows, nil))
			return nil
		},
	}
}

func configurationNames(svc *service.IndexQueueService) string {
	configs := svc.Configurations()
	names := make([]string, len(configs))
	for i, c := range configs {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
