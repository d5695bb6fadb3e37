package automation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/tplusa/drcpd/internal/broker"
	"github.com/tplusa/drcpd/internal/crawler"
	"github.com/tplusa/drcpd/internal/ids"
	"github.com/tplusa/drcpd/internal/listcache"
	"github.com/tplusa/drcpd/internal/player"
	"github.com/tplusa/drcpd/internal/streaminfo"
)

// noopPlayerBus implements player.Bus with answers that never lead the
// coordinator to block: Next reports nothing queued, every other call
// succeeds trivially. Good enough for exercising the automation
// handlers' own logic, which is what these tests are about.
type noopPlayerBus struct{}

func (noopPlayerBus) PushURL(ctx context.Context, streamID ids.StreamID, url string, playImmediate bool) (player.FIFOStatus, error) {
	return player.FIFOStarted, nil
}
func (noopPlayerBus) Next(ctx context.Context) (ids.StreamID, bool, error) {
	return ids.InvalidStreamID, false, nil
}
func (noopPlayerBus) Clear(ctx context.Context, keep ids.StreamID) (ids.StreamID, []ids.StreamID, []ids.StreamID, error) {
	return ids.InvalidStreamID, nil, nil, nil
}
func (noopPlayerBus) Start(ctx context.Context) error              { return nil }
func (noopPlayerBus) Stop(ctx context.Context) error               { return nil }
func (noopPlayerBus) Pause(ctx context.Context) error              { return nil }
func (noopPlayerBus) Seek(ctx context.Context, pos float64, u string) error { return nil }

func newTestCoordinator(t *testing.T) *player.Coordinator {
	t.Helper()
	streams := streaminfo.New()
	resolveURI := func(ctx context.Context, list ids.ListID, line int) (string, error) { return "", nil }
	newOp := func(dir crawler.Direction, mode crawler.RecursiveMode, onDone func(crawler.Result, error)) *crawler.FindNextOp {
		return nil
	}
	c := player.New(noopPlayerBus{}, zerolog.Nop(), streams, resolveURI, newOp)
	t.Cleanup(c.Close)
	return c
}

func req(t *testing.T, body string) *protocol.CallToolRequest {
	t.Helper()
	return &protocol.CallToolRequest{RawArguments: json.RawMessage(body)}
}

func TestHandleGetNowPlayingReportsSnapshot(t *testing.T) {
	s := &Server{player: newTestCoordinator(t), log: zerolog.Nop()}

	result, err := s.handleGetNowPlaying(context.Background(), req(t, "{}"))
	if err != nil {
		t.Fatalf("handleGetNowPlaying: %v", err)
	}
	text := result.Content[0].(*protocol.TextContent).Text
	if !jsonContains(t, text, "state", "STOPPED") {
		t.Fatalf("result = %s, want state STOPPED", text)
	}
}

func TestHandleGetCacheWindowWithoutProviderIsError(t *testing.T) {
	s := &Server{player: newTestCoordinator(t), log: zerolog.Nop()}

	if _, err := s.handleGetCacheWindow(context.Background(), req(t, "{}")); err == nil {
		t.Fatal("handleGetCacheWindow with nil provider: want error, got nil")
	}
}

func TestHandleGetCacheWindowWithNoActiveViewIsError(t *testing.T) {
	s := &Server{player: newTestCoordinator(t), log: zerolog.Nop(), cache: func() *listcache.Cache { return nil }}

	if _, err := s.handleGetCacheWindow(context.Background(), req(t, "{}")); err == nil {
		t.Fatal("handleGetCacheWindow with no active cache: want error, got nil")
	}
}

type fixedSizeBus struct{ size int }

func (b fixedSizeBus) GetListId(ctx context.Context, parent ids.ListID, item int) (broker.ChildListResult, broker.Error) {
	return broker.ChildListResult{}, broker.ErrNotSupported
}
func (b fixedSizeBus) GetListIdAsync(ctx context.Context, parent ids.ListID, item int) (ids.Cookie, error) {
	return 0, broker.ErrNotSupported
}
func (b fixedSizeBus) CheckRange(ctx context.Context, list ids.ListID, first, count int) (broker.SizeResult, broker.Error) {
	return broker.SizeResult{Size: b.size}, broker.ErrOK
}
func (b fixedSizeBus) GetRange(ctx context.Context, list ids.ListID, first, count int) (ids.Cookie, error) {
	return 0, nil
}
func (b fixedSizeBus) GetUris(ctx context.Context, list ids.ListID, item int) (ids.Cookie, error) {
	return 0, nil
}
func (b fixedSizeBus) GetParentLink(ctx context.Context, list ids.ListID) (broker.ParentLinkResult, broker.Error) {
	return broker.ParentLinkResult{}, broker.ErrNotSupported
}

func TestHandleGetCacheWindowReportsBinding(t *testing.T) {
	c := listcache.New(fixedSizeBus{size: 5}, zerolog.Nop(), 10, nil, nil, nil)
	if _, err := c.EnterList(context.Background(), ids.ListID(7), 0, 0, ""); err != nil {
		t.Fatalf("EnterList: %v", err)
	}

	s := &Server{player: newTestCoordinator(t), log: zerolog.Nop(), cache: func() *listcache.Cache { return c }}

	result, err := s.handleGetCacheWindow(context.Background(), req(t, "{}"))
	if err != nil {
		t.Fatalf("handleGetCacheWindow: %v", err)
	}
	text := result.Content[0].(*protocol.TextContent).Text
	if !jsonContains(t, text, "total_items", float64(5)) {
		t.Fatalf("result = %s, want total_items 5", text)
	}
}

func TestHandleGetPlayerQueueWithoutDCPQueueReportsZeroDepth(t *testing.T) {
	s := &Server{player: newTestCoordinator(t), log: zerolog.Nop()}

	result, cErr := s.handleGetPlayerQueue(context.Background(), req(t, "{}"))
	if cErr != nil {
		t.Fatalf("handleGetPlayerQueue: %v", cErr)
	}
	text := result.Content[0].(*protocol.TextContent).Text
	if !jsonContains(t, text, "dcp_queue_depth", float64(0)) {
		t.Fatalf("result = %s, want dcp_queue_depth 0", text)
	}
}

func TestHandleCrawlIntoWithNoCurrentListIsError(t *testing.T) {
	s := &Server{player: newTestCoordinator(t), log: zerolog.Nop()}

	if _, err := s.handleCrawlInto(context.Background(), req(t, `{"line":3}`)); err == nil {
		t.Fatal("handleCrawlInto with no current list: want error, got nil")
	}
}

func TestHandleCrawlOutReleasesWithoutError(t *testing.T) {
	s := &Server{player: newTestCoordinator(t), log: zerolog.Nop()}

	result, err := s.handleCrawlOut(context.Background(), req(t, "{}"))
	if err != nil {
		t.Fatalf("handleCrawlOut: %v", err)
	}
	text := result.Content[0].(*protocol.TextContent).Text
	if !jsonContains(t, text, "active", false) {
		t.Fatalf("result = %s, want active false", text)
	}
}

func TestHandleSkipNextWithNothingQueuedIsNoop(t *testing.T) {
	s := &Server{player: newTestCoordinator(t), log: zerolog.Nop()}

	result, err := s.handleSkipNext(context.Background(), req(t, "{}"))
	if err != nil {
		t.Fatalf("handleSkipNext: %v", err)
	}
	text := result.Content[0].(*protocol.TextContent).Text
	if !jsonContains(t, text, "state", "STOPPED") {
		t.Fatalf("result = %s, want state STOPPED", text)
	}
}

// jsonContains unmarshals text into a generic map and reports whether
// key maps to want (after the usual float64-everything JSON decoding).
func jsonContains(t *testing.T, text string, key string, want any) bool {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("unmarshal %s: %v", text, err)
	}
	got, ok := m[key]
	if !ok {
		return false
	}
	return got == want
}
