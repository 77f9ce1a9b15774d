package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"toolbox/internal/api"
	"toolbox/internal/history"
	"toolbox/internal/services"
)

const defaultJobsLimit = 20

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and prune the conversion history",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("limit must be >= 0, got %d", limit)
			}
			store, err := ctx.openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, api.JobListResponse{Jobs: api.FromRecords(records)})
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}
			fmt.Fprintln(out, renderJobsTable(records))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultJobsLimit, "Maximum jobs to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderJobsTable(records []history.Record) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			shortID(rec.ID),
			rec.InputName,
			valueOrDash(rec.Format),
			string(rec.Stage),
			strconv.Itoa(rec.Percent) + "%",
			outputSummary(rec),
			formatDuration(rec.Duration()),
			formatTimestamp(rec.CreatedAt),
		})
	}
	return renderTable([]column{
		{Header: "ID"},
		{Header: "Input"},
		{Header: "Format"},
		{Header: "Stage"},
		{Header: "Progress", Numeric: true},
		{Header: "Output"},
		{Header: "Took", Numeric: true},
		{Header: "Started"},
	}, rows)
}

func outputSummary(rec history.Record) string {
	switch {
	case rec.Succeeded():
		return fmt.Sprintf("%s (%s)", rec.OutputName, formatBytes(rec.OutputSize))
	case rec.ErrorKind != "":
		return string(rec.ErrorKind)
	default:
		return "-"
	}
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job; a unique ID prefix is accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := findRecord(cmd, store, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, api.JobResponse{Job: api.FromRecord(*rec)})
			}
			out := cmd.OutOrStdout()
			for _, line := range recordLines(*rec) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func findRecord(cmd *cobra.Command, store *history.Store, id string) (*history.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("job id is required")
	}
	rec, err := store.Get(cmd.Context(), id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}

	records, err := store.List(cmd.Context(), 0)
	if err != nil {
		return nil, err
	}
	var matches []history.Record
	for _, r := range records {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("job %s not found", id)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("job prefix %s is ambiguous (%d matches)", id, len(matches))
	}
}

func recordLines(rec history.Record) []string {
	lines := []string{
		fmt.Sprintf("ID:        %s", rec.ID),
		fmt.Sprintf("Input:     %s (%s)", rec.InputName, formatBytes(rec.InputSize)),
		fmt.Sprintf("Format:    %s", valueOrDash(rec.Format)),
		fmt.Sprintf("Stage:     %s (%d%%)", rec.Stage, rec.Percent),
	}
	if rec.Spec.Quality != nil {
		lines = append(lines, fmt.Sprintf("Quality:   %d", *rec.Spec.Quality))
	}
	if rec.Spec.Bitrate != "" {
		lines = append(lines, fmt.Sprintf("Bitrate:   %s", rec.Spec.Bitrate))
	}
	if len(rec.Spec.ExtraArgs) > 0 {
		lines = append(lines, fmt.Sprintf("Extra:     %s", strings.Join(rec.Spec.ExtraArgs, " ")))
	}
	if rec.Succeeded() {
		lines = append(lines, fmt.Sprintf("Output:    %s (%s)", rec.OutputName, formatBytes(rec.OutputSize)))
	}
	if rec.ErrorKind != "" {
		lines = append(lines, fmt.Sprintf("Error:     %s: %s", rec.ErrorKind, rec.ErrorMessage))
	}
	if rec.DownloadToken != "" {
		lines = append(lines, fmt.Sprintf("Download:  %s", rec.DownloadToken))
	}
	lines = append(lines,
		fmt.Sprintf("Started:   %s", formatTimestamp(rec.CreatedAt)),
		fmt.Sprintf("Duration:  %s", formatDuration(rec.Duration())),
	)
	return lines
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs from the history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Clear(cmd.Context(), all)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also remove jobs that never finished")
	return cmd
}
