package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tplusa/drcpd/internal/player"
)

// render builds the whole-screen view, following the same shape as
// teacher's renderList: a header line (title + stats, right-aligned),
// a bordered box of rows, and a help bar — just with the window's
// cached items as rows instead of containers, and a player/crawler/DCP
// status line in place of teacher's debug metrics line.
func (m *Model) render() string {
	if m.width < 40 || m.height < 10 {
		return "Terminal too small. Please resize to at least 40x10."
	}

	var sb strings.Builder

	title := titleStyle.Render("drcpd monitor")
	stats := m.renderPlayerStatus()
	titleWidth := lipgloss.Width(title)
	statsWidth := lipgloss.Width(stats)
	availableWidth := max(80, m.width)
	spacing := availableWidth - titleWidth - statsWidth - 2
	if spacing < 2 {
		spacing = 2
	}
	sb.WriteString(title + strings.Repeat(" ", spacing) + statusBarStyle.Render(stats) + "\n\n")

	sb.WriteString(m.renderCrawlerLine() + "\n\n")

	sb.WriteString(m.renderWindowBox())
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("[UP/DOWN] Scroll  [Q/ESC] Quit"))

	return sb.String()
}

func (m *Model) renderPlayerStatus() string {
	s := m.snap
	style := streamStateStyle(s.State == player.StreamPlaying, s.State == player.StreamBuffering)
	state := style.Render(s.State.String())
	suspended := ""
	if s.Suspended {
		suspended = " │ SUSPENDED"
	}
	return fmt.Sprintf("stream %d │ list %d:%d │ %s │ %.0f/%.0fms%s │ DCP queue %d",
		uint16(s.CurrentStreamID), uint32(s.CurrentListID), s.CurrentLine,
		state, s.Position, s.Duration, suspended, m.queueDepth)
}

func (m *Model) renderCrawlerLine() string {
	s := m.snap
	if !s.Active {
		return dimStyle.Render("crawler: idle")
	}
	return fmt.Sprintf("crawler: %s %s depth=%d list=%d",
		crawlerDirectionString(s.Direction), s.CrawlState.String(), s.CrawlDepth, uint32(s.CrawlListID))
}

func (m *Model) renderWindowBox() string {
	var body strings.Builder

	if !m.haveWindow {
		body.WriteString(dimStyle.Render("no active navigation view"))
		return boxStyle.Width(max(80, m.width) - 4).Render(body.String())
	}

	sep := sepStyle.Render("│")
	body.WriteString(fmt.Sprintf("list %d %s %d items, window starts at line %d\n",
		uint32(m.window.ListID), sep, m.window.TotalItems, m.window.FirstLine))
	body.WriteString(strings.Repeat("─", max(80, m.width)-6) + "\n")

	if len(m.window.Items) == 0 {
		body.WriteString(dimStyle.Render("(empty window)"))
	}

	for i, item := range m.window.Items {
		line := m.window.FirstLine + i
		row := fmt.Sprintf("%6d %s %-10s %s %s", line, sep, item.Kind.String(), sep, item.Text)
		if i == m.cursor {
			row = selectedLineStyle.Render(row)
		}
		body.WriteString(row)
		if i < len(m.window.Items)-1 {
			body.WriteString("\n")
		}
	}

	return boxStyle.Width(max(80, m.width) - 4).Render(body.String())
}
