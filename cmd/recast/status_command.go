package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"recast/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker pool and stage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil && !api.IsUnavailable(err) {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			renderDaemonStatus(out, ctx.apiAddress(), status, shouldColorize(out))
			return nil
		},
	}
}

func renderDaemonStatus(w io.Writer, addr string, status api.DaemonStatus, colorize bool) {
	for _, line := range renderSectionHeader("System Status", colorize) {
		fmt.Fprintln(w, line)
	}
	if !status.Running {
		fmt.Fprintln(w, renderStatusLine("Daemon", statusError, "Not reachable at "+addr, colorize))
		return
	}
	fmt.Fprintln(w, renderStatusLine("Daemon", statusOK, "Running (pid "+strconv.Itoa(status.PID)+")", colorize))
	fmt.Fprintln(w, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
	if status.Workflow.LastError != "" {
		fmt.Fprintln(w, renderStatusLine("Last error", statusWarn, status.Workflow.LastError, colorize))
	}

	fmt.Fprintln(w)
	for _, line := range renderSectionHeader("Stages", colorize) {
		fmt.Fprintln(w, line)
	}
	for _, h := range status.Workflow.StageHealth {
		kind, detail := statusOK, "Ready"
		if !h.Ready {
			kind, detail = statusError, orDash(h.Detail)
		}
		fmt.Fprintln(w, renderStatusLine(h.Name, kind, detail, colorize))
	}

	fmt.Fprintln(w)
	for _, line := range renderSectionHeader("Worker Pools", colorize) {
		fmt.Fprintln(w, line)
	}
	rows := make([][]string, 0, len(status.Workflow.Pools))
	for _, p := range status.Workflow.Pools {
		rows = append(rows, []string{p.Name, strconv.Itoa(p.Size), strconv.Itoa(p.InFlight), strconv.Itoa(p.Queued)})
	}
	fmt.Fprint(w, renderTable([]string{"Pool", "Size", "Running", "Queued"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight}))

	fmt.Fprintln(w)
	for _, line := range renderSectionHeader("Recordings", colorize) {
		fmt.Fprintln(w, line)
	}
	countRows := buildStatusCountRows(status.Workflow.StatusCounts)
	if len(countRows) == 0 {
		fmt.Fprintln(w, "No recordings")
		return
	}
	fmt.Fprint(w, renderTable([]string{"Status", "Count"}, countRows, []columnAlignment{alignLeft, alignRight}))
}
