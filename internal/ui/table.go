package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/BioHazard786/Lockstep/internal/session"
)

// SessionSummaryView renders one row per session.
func SessionSummaryView(summaries []session.Summary) string {
	if len(summaries) == 0 {
		return MutedStyle.Render("No sessions")
	}

	headers := []string{"#", "Peer", "Role", "State", "Duration", "Latency", "Clock offset"}
	var rows [][]string
	for i, s := range summaries {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(s.PeerID, 32),
			s.Role.String(),
			s.State.String(),
			sessionDuration(s),
			formatLatency(s.Latency),
			formatMillis(s.TimeDiff),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// LatencySamplesView renders the latency samples of a session with their average.
// Only the last limit samples are listed when limit is positive.
func LatencySamplesView(s session.Summary, limit int) string {
	samples := s.Samples
	if len(samples) == 0 {
		return ""
	}
	skipped := 0
	if limit > 0 && len(samples) > limit {
		skipped = len(samples) - limit
		samples = samples[skipped:]
	}

	t := prettytable.NewWriter()
	t.SetTitle(fmt.Sprintf("%s Latency to %s", IconLatency, s.PeerID))
	t.AppendHeader(prettytable.Row{"#", "Measured", "RTT", "One-way"})

	var sum time.Duration
	for _, sample := range s.Samples {
		sum += sample.Latency
	}
	for i, sample := range samples {
		t.AppendRow(prettytable.Row{
			skipped + i + 1,
			sample.At.Format("15:04:05.000"),
			formatMillis(sample.RTT),
			formatMillis(sample.Latency),
		})
	}
	avg := sum / time.Duration(len(s.Samples))
	t.AppendFooter(prettytable.Row{"", "", "Average", formatMillis(avg)})
	t.SetStyle(prettytable.StyleRounded)

	return t.Render()
}

// RenderSessionReport prints the exit report for all sessions.
func RenderSessionReport(summaries []session.Summary) {
	fmt.Printf("\n%s %s\n", IconSummary, TitleStyle.Render("Session Summary"))
	fmt.Println(SessionSummaryView(summaries))
	for _, s := range summaries {
		if view := LatencySamplesView(s, 20); view != "" {
			fmt.Println()
			fmt.Println(view)
		}
	}
}

func sessionDuration(s session.Summary) string {
	if s.StartedAt.IsZero() {
		return "-"
	}
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt).Round(time.Second).String()
}

func formatLatency(l *time.Duration) string {
	if l == nil {
		return "-"
	}
	return formatMillis(*l)
}

func formatMillis(d time.Duration) string {
	return fmt.Sprintf("%.1f ms", float64(d)/float64(time.Millisecond))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
