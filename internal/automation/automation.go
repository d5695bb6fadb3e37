// Package automation implements the automation surface (SPEC_FULL.md
// §4.10, component S2): a `go-mcp` `StreamableHTTPServerTransport`
// exposing read tools over the daemon's live state and command tools
// that are thin calls into the player coordinator's public API (C8).
//
// Grounded on the teacher's `mcpserver.go`/`mcptools.go`: the same
// StreamableHTTPServerTransport construction, `protocol.NewTool` +
// `RegisterTool` registration loop, and per-tool handler shape, carried
// over verbatim in structure and repurposed from container introspection
// to player/cache/crawler introspection.
package automation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/ThinkInAIXYZ/go-mcp/server"
	"github.com/ThinkInAIXYZ/go-mcp/transport"
	"github.com/rs/zerolog"

	"github.com/tplusa/drcpd/internal/crawler"
	"github.com/tplusa/drcpd/internal/dcp"
	"github.com/tplusa/drcpd/internal/listcache"
	"github.com/tplusa/drcpd/internal/player"
)

// mcpLogAdapter satisfies go-mcp's pkg.Logger interface over zerolog,
// replacing teacher's file+buffer backed mcpCustomLogger: this daemon
// already has a structured logger, so the tool surface just writes
// through it instead of keeping a parallel ring buffer for a TUI that
// doesn't exist here.
type mcpLogAdapter struct{ log zerolog.Logger }

func (l mcpLogAdapter) Debugf(format string, a ...any) { l.log.Debug().Msgf(format, a...) }
func (l mcpLogAdapter) Infof(format string, a ...any)  { l.log.Info().Msgf(format, a...) }
func (l mcpLogAdapter) Warnf(format string, a ...any)  { l.log.Warn().Msgf(format, a...) }
func (l mcpLogAdapter) Errorf(format string, a ...any) { l.log.Error().Msgf(format, a...) }

// CacheProvider returns the listcache.Cache currently backing whatever
// navigation view is on screen, or nil if none. The concrete views that
// own a Cache are out of scope (spec.md §1 Non-goals); main.go supplies
// this as a thin closure over whichever view is active.
type CacheProvider func() *listcache.Cache

// Server is the automation surface's MCP server, mirroring teacher's
// MCPServer: one struct owning the transport-backed server plus the
// health endpoint, built once and run for the daemon's lifetime.
type Server struct {
	log zerolog.Logger

	player    *player.Coordinator
	cache     CacheProvider
	dcpQueue  *dcp.Queue
	mcpServer *server.Server
	port      int
}

// New builds a Server bound to port, wiring the tool surface over coord,
// cache, and dcpQueue. dcpQueue may be nil if no DCP transport is in use.
func New(port int, coord *player.Coordinator, cache CacheProvider, dcpQueue *dcp.Queue, log zerolog.Logger) (*Server, error) {
	s := &Server{log: log, player: coord, cache: cache, dcpQueue: dcpQueue, port: port}

	mcpTransport := transport.NewStreamableHTTPServerTransport(
		fmt.Sprintf(":%d", port),
		transport.WithStreamableHTTPServerTransportOptionEndpoint("/mcp"),
		transport.WithStreamableHTTPServerTransportOptionStateMode(transport.Stateful),
		transport.WithStreamableHTTPServerTransportOptionLogger(mcpLogAdapter{log: log}),
	)

	var err error
	s.mcpServer, err = server.NewServer(
		mcpTransport,
		server.WithServerInfo(protocol.Implementation{
			Name:    "drcpd-automation",
			Version: "1.0",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("automation: create MCP server: %w", err)
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("automation: register tools: %w", err)
	}

	return s, nil
}

// Start runs the MCP server (blocking).
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("automation: MCP server listening on /mcp")
	return s.mcpServer.Run()
}

// Shutdown gracefully stops the MCP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.mcpServer.Shutdown(ctx)
}

// registerTools registers every tool named in SPEC_FULL.md §4.10.
func (s *Server) registerTools() error {
	type toolDef struct {
		name, desc string
		args       any
		handler    func(context.Context, *protocol.CallToolRequest) (*protocol.CallToolResult, error)
	}

	defs := []toolDef{
		{"get_now_playing", "Report the player coordinator's current stream state", NowPlayingArgs{}, s.handleGetNowPlaying},
		{"get_cache_window", "Report the active navigation view's cached window", CacheWindowArgs{}, s.handleGetCacheWindow},
		{"get_crawler_state", "Report the current playlist crawl's traversal state", CrawlerStateArgs{}, s.handleGetCrawlerState},
		{"get_player_queue", "List streams currently tracked as enqueued ahead of or at the player", PlayerQueueArgs{}, s.handleGetPlayerQueue},
		{"skip_next", "Skip the player to the next queued stream", SkipNextArgs{}, s.handleSkipNext},
		{"skip_previous", "Skip the player to the previous stream, or restart the current one", SkipPreviousArgs{}, s.handleSkipPrevious},
		{"crawl_into", "Start an enqueue crawl from a line in the current list", CrawlIntoArgs{}, s.handleCrawlInto},
		{"crawl_out", "Release the current enqueue crawl", CrawlOutArgs{}, s.handleCrawlOut},
	}

	for _, d := range defs {
		tool, err := protocol.NewTool(d.name, d.desc, d.args)
		if err != nil {
			return fmt.Errorf("create tool %q: %w", d.name, err)
		}
		s.mcpServer.RegisterTool(tool, d.handler)
	}
	return nil
}

func textResult(v any) (*protocol.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("automation: marshal result: %w", err)
	}
	return &protocol.CallToolResult{
		Content: []protocol.Content{&protocol.TextContent{Type: "text", Text: string(out)}},
	}, nil
}

// NowPlayingArgs takes no parameters.
type NowPlayingArgs struct{}

// nowPlayingView renders a player.Snapshot with its enums spelled out as
// strings; every tool that reports post-command state returns this same
// shape so a caller never has to special-case "the result of skip_next"
// against "the result of get_now_playing".
type nowPlayingView struct {
	Active     bool    `json:"active"`
	State      string  `json:"state"`
	StreamID   uint32  `json:"stream_id"`
	ListID     uint32  `json:"list_id"`
	Line       int     `json:"line"`
	PositionMs float64 `json:"position_ms"`
	DurationMs float64 `json:"duration_ms"`
	Suspended  bool    `json:"suspended"`
}

func newNowPlayingView(snap player.Snapshot) nowPlayingView {
	return nowPlayingView{
		Active:     snap.Active,
		State:      snap.State.String(),
		StreamID:   uint32(snap.CurrentStreamID),
		ListID:     uint32(snap.CurrentListID),
		Line:       snap.CurrentLine,
		PositionMs: snap.Position,
		DurationMs: snap.Duration,
		Suspended:  snap.Suspended,
	}
}

func (s *Server) handleGetNowPlaying(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	return textResult(newNowPlayingView(s.player.Snapshot()))
}

// CacheWindowArgs takes no parameters.
type CacheWindowArgs struct{}

func (s *Server) handleGetCacheWindow(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	if s.cache == nil {
		return nil, fmt.Errorf("automation: no cache provider configured")
	}
	c := s.cache()
	if c == nil {
		return nil, fmt.Errorf("automation: no active navigation view")
	}
	win := c.WindowSnapshot()

	type item struct {
		Text string `json:"text"`
		Kind string `json:"kind"`
	}
	items := make([]item, 0, len(win.Items))
	for _, it := range win.Items {
		items = append(items, item{Text: it.Text, Kind: it.Kind.String()})
	}

	return textResult(struct {
		ListID     uint32 `json:"list_id"`
		TotalItems int    `json:"total_items"`
		FirstLine  int    `json:"first_line"`
		Items      []item `json:"items"`
	}{
		ListID:     uint32(win.ListID),
		TotalItems: win.TotalItems,
		FirstLine:  win.FirstLine,
		Items:      items,
	})
}

// CrawlerStateArgs takes no parameters.
type CrawlerStateArgs struct{}

func (s *Server) handleGetCrawlerState(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	snap := s.player.Snapshot()
	return textResult(struct {
		Active    bool   `json:"active"`
		Direction string `json:"direction"`
		State     string `json:"state"`
		Depth     int    `json:"depth"`
		ListID    uint32 `json:"list_id"`
	}{
		Active:    snap.Active,
		Direction: directionString(snap.Direction),
		State:     snap.CrawlState.String(),
		Depth:     snap.CrawlDepth,
		ListID:    uint32(snap.CrawlListID),
	})
}

func directionString(d crawler.Direction) string {
	switch d {
	case crawler.Forward:
		return "FORWARD"
	case crawler.Backward:
		return "BACKWARD"
	default:
		return "NONE"
	}
}

// PlayerQueueArgs takes no parameters.
type PlayerQueueArgs struct{}

func (s *Server) handleGetPlayerQueue(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	entries := s.player.StreamEntries()
	type row struct {
		StreamID uint32 `json:"stream_id"`
		ListID   uint32 `json:"list_id"`
		Line     int    `json:"line"`
		AltName  string `json:"alt_name"`
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, row{StreamID: uint32(e.ID), ListID: uint32(e.ListID), Line: e.Line, AltName: e.AltName})
	}

	depth := 0
	if s.dcpQueue != nil {
		depth = s.dcpQueue.Depth()
	}

	return textResult(struct {
		Entries      []row `json:"entries"`
		DCPQueueDepth int   `json:"dcp_queue_depth"`
	}{Entries: rows, DCPQueueDepth: depth})
}

// SkipNextArgs takes no parameters.
type SkipNextArgs struct{}

func (s *Server) handleSkipNext(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	s.player.SkipToNext(ctx)
	s.player.Flush()
	return textResult(newNowPlayingView(s.player.Snapshot()))
}

// SkipPreviousArgs mirrors Coordinator.SkipToPrevious's two tuning
// knobs; both default to 0, which always crawls back rather than
// restarting the current track in place.
type SkipPreviousArgs struct {
	RewindThresholdMs float64 `json:"rewind_threshold_ms,omitempty" description:"Restart the current track instead of skipping back if PositionMs is at or past this"`
	PositionMs        float64 `json:"position_ms,omitempty" description:"The player's last reported position, compared against RewindThresholdMs"`
}

func (s *Server) handleSkipPrevious(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	args := new(SkipPreviousArgs)
	if err := protocol.VerifyAndUnmarshal(req.RawArguments, args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	s.player.SkipToPrevious(ctx, args.RewindThresholdMs, args.PositionMs)
	s.player.Flush()
	return textResult(newNowPlayingView(s.player.Snapshot()))
}

// CrawlIntoArgs names the line, within the currently playing list, to
// start a fresh enqueue crawl from.
type CrawlIntoArgs struct {
	Line int `json:"line" description:"Line number within the current list to start crawling from"`
}

func (s *Server) handleCrawlInto(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	args := new(CrawlIntoArgs)
	if err := protocol.VerifyAndUnmarshal(req.RawArguments, args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	snap := s.player.Snapshot()
	if !snap.CurrentListID.IsValid() {
		return nil, fmt.Errorf("automation: no current list to crawl into")
	}

	dir := snap.Direction
	if dir == crawler.DirNone {
		dir = crawler.Forward
	}
	s.player.Take(ctx, player.StreamBuffering, dir, snap.Mode, snap.CurrentListID, args.Line, nil)
	s.player.Flush()
	return textResult(newNowPlayingView(s.player.Snapshot()))
}

// CrawlOutArgs takes no parameters.
type CrawlOutArgs struct{}

func (s *Server) handleCrawlOut(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	s.player.Release(ctx, true, true)
	s.player.Flush()
	return textResult(newNowPlayingView(s.player.Snapshot()))
}
