package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"toolbox/internal/api"
	"toolbox/internal/preflight"
)

const statusTimeout = 5 * time.Second

type statusReport struct {
	ConfigPath  string            `json:"configPath"`
	Checks      []checkResult     `json:"checks"`
	Daemon      *api.DaemonStatus `json:"daemon,omitempty"`
	DaemonError string            `json:"daemonError,omitempty"`
}

type checkResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show environment checks and daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()

			report := statusReport{ConfigPath: ctx.configPath}
			for _, r := range preflight.RunAll(runCtx, cfg) {
				report.Checks = append(report.Checks, checkResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
			}

			client, err := ctx.apiClient()
			switch {
			case err != nil:
				report.DaemonError = fmt.Sprintf("invalid api_bind: %v", err)
			case client == nil:
				report.DaemonError = "api_bind not configured"
			default:
				status, err := client.Status(runCtx)
				if err != nil {
					report.DaemonError = daemonErrorText(err)
				} else {
					report.Daemon = &status
				}
			}

			if jsonOutput {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			for _, line := range statusLines(report, isTerminal(out)) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func daemonErrorText(err error) string {
	if api.IsUnavailable(err) {
		return "not running"
	}
	return err.Error()
}

func statusLines(report statusReport, colorize bool) []string {
	var lines []string
	lines = append(lines, renderSectionHeader("Environment", colorize)...)
	if report.ConfigPath != "" {
		lines = append(lines, renderStatusLine("Config", statusInfo, report.ConfigPath, colorize))
	}
	for _, check := range report.Checks {
		kind, detail := statusOK, valueOrDash(check.Detail)
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, detail, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if report.Daemon == nil {
		kind := statusWarn
		if report.DaemonError != "not running" {
			kind = statusError
		}
		return append(lines, renderStatusLine("toolboxd", kind, report.DaemonError, colorize))
	}
	return append(lines, daemonLines(*report.Daemon, colorize)...)
}

func daemonLines(status api.DaemonStatus, colorize bool) []string {
	running := fmt.Sprintf("Running (pid %d", status.PID)
	if status.Version != "" {
		running += ", " + status.Version
	}
	running += ")"
	lines := []string{renderStatusLine("toolboxd", statusOK, running, colorize)}

	engine := status.Engine
	engineKind := statusInfo
	switch {
	case engine.Ready:
		engineKind = statusOK
	case engine.Error != "":
		engineKind = statusError
	}
	engineText := engine.State
	if engine.Version != "" {
		engineText += " (" + engine.Version + ")"
	}
	if engine.Error != "" {
		engineText += ": " + engine.Error
	}
	lines = append(lines, renderStatusLine("Engine", engineKind, engineText, colorize))

	if job := status.CurrentJob; job != nil {
		lines = append(lines, renderStatusLine("Current job", statusInfo,
			fmt.Sprintf("%s %s -> %s %s %d%%", shortID(job.ID), job.InputName, job.Format, job.StageLabel, job.Percent), colorize))
	} else {
		lines = append(lines, renderStatusLine("Current job", statusInfo, "idle", colorize))
	}

	h := status.History
	historyKind := statusOK
	if h.Failed > 0 {
		historyKind = statusWarn
	}
	lines = append(lines, renderStatusLine("History", historyKind,
		fmt.Sprintf("%d total, %d succeeded, %d failed, %d running", h.Total, h.Succeeded, h.Failed, h.Running), colorize))
	lines = append(lines, renderStatusLine("Downloads", statusInfo, fmt.Sprintf("%d published", status.Downloads), colorize))
	if status.Host.MemoryTotal > 0 {
		lines = append(lines, renderStatusLine("Memory", statusInfo,
			fmt.Sprintf("%s free of %s (%.0f%% used)", formatBytes(int64(status.Host.MemoryAvailable)), formatBytes(int64(status.Host.MemoryTotal)), status.Host.MemoryUsedPct), colorize))
	}
	lines = append(lines, renderStatusLine("Workspace free", statusInfo, formatBytes(int64(status.Host.WorkspaceFree)), colorize))

	return append(lines, dependencyLines(status.Dependencies, colorize)...)
}

func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps)+1)
	var missing []string
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}
