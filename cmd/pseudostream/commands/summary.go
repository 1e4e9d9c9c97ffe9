package commands

import (
	"fmt"
	"io"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/pseudostream/internal/cache"
	"github.com/Sumatoshi-tech/pseudostream/internal/events"
	"github.com/Sumatoshi-tech/pseudostream/internal/offload"
	"github.com/Sumatoshi-tech/pseudostream/internal/pipeline"
)

// summary is everything the run summary renders.
type summary struct {
	input    string
	report   *pipeline.Report
	pool     *offload.PoolInfo
	cache    *cache.Stats
	recorder *events.Recorder
	noColor  bool
}

// writeSummary renders the status line and the run table.
func writeSummary(w io.Writer, s summary) {
	writeStatus(w, s)

	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateHeader = false

	for _, row := range summaryRows(s) {
		tbl.AppendRow(row)
	}

	fmt.Fprintln(w, tbl.Render())
}

func writeStatus(w io.Writer, s summary) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	if s.noColor {
		green.DisableColor()
		yellow.DisableColor()
		red.DisableColor()
	}

	report := s.report

	switch {
	case len(report.Failed) > 0:
		red.Fprintf(w, "Translation incomplete: %d of %d chunks failed %v\n",
			len(report.Failed), len(report.Chunks), report.Failed)
	case report.ValidationErr != nil:
		yellow.Fprintf(w, "Translated, but validation failed: %v\n", report.ValidationErr)
	default:
		green.Fprintf(w, "Translated %d chunks\n", len(report.Chunks))
	}
}

func summaryRows(s summary) []table.Row {
	report := s.report

	rows := []table.Row{
		{"Input", humanize.Comma(int64(utf8.RuneCountInString(s.input))) + " chars"},
		{"Output", humanize.Bytes(uint64(len(report.Output)))},
		{"Chunks", len(report.Chunks)},
		{"Chunk sizes", sizeRange(report.ChunkSizes)},
		{"Adaptations", fmt.Sprintf("%d of %d decisions", report.Adaptations, report.Decisions)},
		{"Offloaded", report.Offloaded},
		{"Fallbacks", report.Fallbacks},
		{"Failed", len(report.Failed)},
		{"Latency p50/p95/max", fmt.Sprintf("%.1f / %.1f / %.1f ms",
			report.Latency.P50MS, report.Latency.P95MS, report.Latency.MaxMS)},
		{"Elapsed", report.Elapsed.Round(time.Microsecond).String()},
	}

	if s.pool != nil {
		rows = append(rows, table.Row{"Pool", fmt.Sprintf("%d workers, %s, generation %d",
			s.pool.WorkerCount, s.pool.StartMethod, s.pool.Generation)})
	}

	if s.cache != nil {
		rows = append(rows, table.Row{"Parse cache", fmt.Sprintf("%d hits, %d misses, %s",
			s.cache.Hits, s.cache.Misses, humanize.Bytes(uint64(s.cache.CurrentSize)))})
	}

	if s.recorder != nil {
		for _, kind := range eventKinds(s.recorder) {
			rows = append(rows, table.Row{string(kind), s.recorder.Count(kind)})
		}
	}

	return rows
}

// sizeRange formats the smallest and largest requested chunk size.
func sizeRange(sizes []int) string {
	if len(sizes) == 0 {
		return "-"
	}

	lo, hi := slices.Min(sizes), slices.Max(sizes)
	if lo == hi {
		return humanize.Comma(int64(lo))
	}

	return humanize.Comma(int64(lo)) + " - " + humanize.Comma(int64(hi))
}

// eventKinds returns the distinct recorded kinds in sorted order.
func eventKinds(rec *events.Recorder) []events.Kind {
	kinds := rec.Kinds()
	slices.Sort(kinds)

	return slices.Compact(kinds)
}
