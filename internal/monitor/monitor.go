// Package monitor implements the operator dashboard (SPEC_FULL.md §4.11,
// component S3): a `bubbletea` program that polls daemon snapshots on
// a 500ms tick and renders them as a scrollable list, exactly like the
// teacher's `model.go` polls and renders a container list.
//
// Grounded on teacher's `model.go`: same tea.Model shape (Init/Update/
// View), the same tea.Tick-driven refresh loop (`tickCmd`/`cpuTickCmd`),
// and the same "copy state out under lock, then render the copy"
// discipline as `renderList`'s `containersMu.RLock()` section — rows are
// cache-window items, a crawler frame, and player/DCP state instead of
// containers.
package monitor

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tplusa/drcpd/internal/crawler"
	"github.com/tplusa/drcpd/internal/dcp"
	"github.com/tplusa/drcpd/internal/listcache"
	"github.com/tplusa/drcpd/internal/player"
)

// CacheProvider returns the listcache.Cache currently backing whichever
// navigation view is active, or nil if none. Mirrors
// internal/automation.CacheProvider; kept as its own type here rather
// than imported so the monitor doesn't have to depend on the automation
// package for an unrelated tool surface.
type CacheProvider func() *listcache.Cache

const refreshInterval = 500 * time.Millisecond

// snapshotMsg carries a freshly-read copy of daemon state to the tea
// program; all fields are already-safe copies taken at Update time.
type snapshotMsg struct {
	player player.Snapshot
	window listcache.Window
	haveWindow bool
	queueDepth int
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the monitor's bubbletea model.
type Model struct {
	player   *player.Coordinator
	cache    CacheProvider
	dcpQueue *dcp.Queue

	width, height int
	cursor        int

	snap       player.Snapshot
	window     listcache.Window
	haveWindow bool
	queueDepth int
}

// New builds a monitor Model bound to coord, cache, and dcpQueue.
// dcpQueue and cache may be nil if DCP or an active view aren't present.
func New(coord *player.Coordinator, cache CacheProvider, dcpQueue *dcp.Queue) *Model {
	return &Model{player: coord, cache: cache, dcpQueue: dcpQueue}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tickCmd())
}

// poll reads the current state out of the already-thread-safe
// accessors and wraps it as a tea.Cmd, the same role teacher's
// `loadContainers`/`fetchCPUStats` play for the Docker client.
func (m *Model) poll() tea.Cmd {
	return func() tea.Msg {
		msg := snapshotMsg{player: m.player.Snapshot()}
		if m.dcpQueue != nil {
			msg.queueDepth = m.dcpQueue.Depth()
		}
		if m.cache != nil {
			if c := m.cache(); c != nil {
				msg.window = c.WindowSnapshot()
				msg.haveWindow = true
			}
		}
		return msg
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			m.cursor++
		}
		return m, nil

	case tickMsg:
		return m, m.poll()

	case snapshotMsg:
		m.snap = msg.player
		m.queueDepth = msg.queueDepth
		m.window = msg.window
		m.haveWindow = msg.haveWindow
		if m.haveWindow && m.cursor >= len(m.window.Items) && len(m.window.Items) > 0 {
			m.cursor = len(m.window.Items) - 1
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) View() string {
	return m.render()
}

// crawlerDirectionString mirrors internal/automation's own rendering so
// the two surfaces never disagree on what a crawl direction is called.
func crawlerDirectionString(d crawler.Direction) string {
	switch d {
	case crawler.Forward:
		return "FORWARD"
	case crawler.Backward:
		return "BACKWARD"
	default:
		return "NONE"
	}
}
