package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/pkg/turn"
)

type fakeService struct {
	key     session.Key
	inputs  []turn.Declaration
	reply   session.Reply
	err     error
	missing bool
	resets  int
}

func (f *fakeService) Submit(_ context.Context, key session.Key, in []turn.Declaration) (session.Reply, error) {
	f.key, f.inputs = key, in
	return f.reply, f.err
}

func (f *fakeService) Dump(_ context.Context, key session.Key) (string, error) {
	f.key = key
	if f.missing {
		return "", session.ErrNoSession
	}
	return "Level 0 (1 queued)\n", nil
}

func (f *fakeService) Stats(context.Context, session.Key) (turn.Stats, error) {
	if f.missing {
		return turn.Stats{}, session.ErrNoSession
	}
	return turn.Stats{ActiveTurns: 1, CurrentTurnID: "1"}, nil
}

func (f *fakeService) Reset(_ context.Context, key session.Key) error {
	f.key = key
	f.resets++
	return nil
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return tc.Text
}

func TestSubmitInput(t *testing.T) {
	svc := &fakeService{reply: session.Reply{SessionID: "s1", Outputs: []string{"Roll to hit.", "You hit."}}}
	s := New(svc)

	res, err := s.handleSubmit(context.Background(), callRequest("submit_input", map[string]any{
		"speaker": "Alice", "content": "I attack", "channel": "table-1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if svc.key != (session.Key{ChannelType: ChannelType, ChannelID: "table-1"}) {
		t.Errorf("key = %+v", svc.key)
	}
	if got := resultText(t, res); got != "Roll to hit.\n\nYou hit." {
		t.Errorf("text = %q", got)
	}
	if reply, ok := res.StructuredContent.(session.Reply); !ok || reply.SessionID != "s1" {
		t.Errorf("structured content = %#v", res.StructuredContent)
	}
}

func TestSubmitInputErrors(t *testing.T) {
	svc := &fakeService{err: errors.New("no model")}
	s := New(svc)

	res, _ := s.handleSubmit(context.Background(), callRequest("submit_input", map[string]any{"speaker": "Alice"}))
	if !res.IsError {
		t.Error("missing content should be a tool error")
	}
	res, _ = s.handleSubmit(context.Background(), callRequest("submit_input", map[string]any{"speaker": "Alice", "content": "hi"}))
	if !res.IsError || !strings.Contains(resultText(t, res), "no model") {
		t.Errorf("service error not reported: %+v", res)
	}
	if svc.key.ChannelID != defaultChannel {
		t.Errorf("empty channel should map to %q, got %q", defaultChannel, svc.key.ChannelID)
	}
}

func TestDumpStatsReset(t *testing.T) {
	svc := &fakeService{}
	s := New(svc)
	ctx := context.Background()

	res, _ := s.handleDump(ctx, callRequest("dump_stack", nil))
	if got := resultText(t, res); got != "Level 0 (1 queued)\n" {
		t.Errorf("dump = %q", got)
	}
	svc.missing = true
	res, _ = s.handleDump(ctx, callRequest("dump_stack", nil))
	if got := resultText(t, res); got != "(turn stack is empty)\n" {
		t.Errorf("dump of a missing session = %q", got)
	}

	res, _ = s.handleStats(ctx, callRequest("turn_stats", nil))
	if res.IsError {
		t.Error("stats of a missing session should report zero counters")
	}

	res, _ = s.handleReset(ctx, callRequest("reset_session", map[string]any{"channel": "x"}))
	if res.IsError || svc.resets != 1 || svc.key.ChannelID != "x" {
		t.Errorf("reset not forwarded: %+v resets=%d key=%+v", res, svc.resets, svc.key)
	}
}
