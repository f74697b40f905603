package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"recast/internal/api"
	"recast/internal/language"
	"recast/internal/recording"
	"recast/internal/workflow"
)

const titleWidth = 40

func buildRecordingRows(recs []api.Recording, colorize bool) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			rec.Tenant,
			truncate(displayTitle(rec), titleWidth),
			rec.Status,
			colorizeText(rec.Observation, observationKind(rec.Observation), colorize),
			targetSummary(rec.Targets),
			formatDisplayTime(rec.UpdatedAt),
		})
	}
	return rows
}

func renderRecordingList(w io.Writer, recs []api.Recording, colorize bool) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No recordings")
		return
	}
	fmt.Fprint(w, renderTable(
		[]string{"ID", "Tenant", "Title", "Status", "State", "Targets", "Updated"},
		buildRecordingRows(recs, colorize),
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	))
}

func renderRecordingDetail(w io.Writer, resp api.RecordingResponse, colorize bool) {
	rec := resp.Recording
	for _, line := range renderSectionHeader(fmt.Sprintf("Recording #%d", rec.ID), colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Title:", displayTitle(rec))
	fmt.Fprintf(w, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Tenant:", rec.Tenant)
	fmt.Fprintf(w, "%s%-*s %s (%s)\n", statusIndent, statusLabelWidth, "Source:", orDash(rec.SourceURI), rec.SourceState)
	fmt.Fprintln(w, renderStatusLine("Status", observationKind(rec.Observation), rec.Status+" / "+rec.Observation, colorize))
	if rec.Failed {
		detail := stageLabel(rec.FailedAtStage)
		if rec.ErrorMessage != "" {
			detail += ": " + rec.ErrorMessage
		}
		if rec.ErrorKind != "" {
			detail += " [" + rec.ErrorKind + "]"
		}
		fmt.Fprintln(w, renderStatusLine("Failed at", statusError, detail, colorize))
	}
	if rec.OnPause {
		fmt.Fprintln(w, renderStatusLine("Paused", statusWarn, "chain halts before the next stage", colorize))
	}
	if rec.NextAttemptAt != "" {
		fmt.Fprintln(w, renderStatusLine("Next attempt", statusInfo, formatDisplayTime(rec.NextAttemptAt), colorize))
	}
	fmt.Fprintf(w, "%s%-*s %d operator / %d automatic\n", statusIndent, statusLabelWidth, "Retries:", rec.RetryCount, rec.AutoRetries)
	fmt.Fprintf(w, "%s%-*s %d\n", statusIndent, statusLabelWidth, "Generation:", rec.Generation)
	fmt.Fprintf(w, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Stages:", settingsSummary(rec.Settings))

	if len(rec.Targets) > 0 {
		fmt.Fprintln(w)
		for _, line := range renderSectionHeader("Targets", colorize) {
			fmt.Fprintln(w, line)
		}
		rows := make([][]string, 0, len(rec.Targets))
		for _, t := range rec.Targets {
			rows = append(rows, []string{t.Platform, t.Status, strconv.Itoa(t.RetryCount), orDash(firstNonEmpty(t.RemoteURL, t.LastError))})
		}
		fmt.Fprint(w, renderTable([]string{"Platform", "Status", "Retries", "Detail"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
	}

	if len(resp.Runs) > 0 {
		fmt.Fprintln(w)
		for _, line := range renderSectionHeader("Stage History", colorize) {
			fmt.Fprintln(w, line)
		}
		fmt.Fprint(w, renderTable([]string{"Gen", "Stage", "Attempt", "Status", "Started", "Duration", "Error"}, buildRunRows(resp.Runs),
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft}))
	}
}

func buildRunRows(runs []api.StageRun) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			strconv.Itoa(run.Generation),
			stageLabel(run.Stage),
			strconv.Itoa(run.Attempt),
			run.Status,
			formatDisplayTime(run.StartedAt),
			runDuration(run.StartedAt, run.FinishedAt),
			truncate(run.ErrorMessage, 60),
		})
	}
	return rows
}

func buildStatusCountRows(counts map[string]int) [][]string {
	order := make(map[string]int)
	for i, s := range recording.AllStatuses() {
		order[string(s)] = i
	}
	keys := make([]string, 0, len(counts))
	for k, v := range counts {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return order[keys[i]] < order[keys[j]] })
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, strconv.Itoa(counts[k])})
	}
	return rows
}

func targetSummary(targets []api.Target) string {
	if len(targets) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		mark := "…"
		switch t.Status {
		case string(recording.TargetUploaded):
			mark = "✓"
		case string(recording.TargetFailed):
			mark = "✗"
		}
		parts = append(parts, t.Platform+mark)
	}
	return strings.Join(parts, " ")
}

func settingsSummary(s api.Settings) string {
	var parts []string
	if s.Trim {
		parts = append(parts, "trim")
	}
	if s.Transcribe {
		if s.Language != "" {
			parts = append(parts, "transcribe ("+language.DisplayName(s.Language)+")")
		} else {
			parts = append(parts, "transcribe")
		}
	}
	if s.ExtractTopics {
		parts = append(parts, "topics")
	}
	if s.Subtitles {
		parts = append(parts, "subtitles")
	}
	if len(s.Destinations) > 0 {
		parts = append(parts, "publish to "+strings.Join(s.Destinations, ", "))
	}
	if len(parts) == 0 {
		return "download only"
	}
	return strings.Join(parts, ", ")
}

func stageLabel(raw string) string {
	if stage, ok := recording.ParseStage(raw); ok {
		return workflow.StageLabel(stage)
	}
	return orDash(raw)
}

func displayTitle(rec api.Recording) string {
	if strings.TrimSpace(rec.Title) != "" {
		return rec.Title
	}
	return "Recording " + strconv.FormatInt(rec.ID, 10)
}

func formatDisplayTime(raw string) string {
	if raw == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func runDuration(started, finished string) string {
	if started == "" || finished == "" {
		return "-"
	}
	s, err1 := time.Parse(time.RFC3339, started)
	f, err2 := time.Parse(time.RFC3339, finished)
	if err1 != nil || err2 != nil {
		return "-"
	}
	return f.Sub(s).Round(time.Second).String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
