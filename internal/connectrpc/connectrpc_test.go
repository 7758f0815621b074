package connectrpc

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/pkg/agent/domain"
	pkgLogger "github.com/fpt/klein-dm/pkg/logger"
	"github.com/fpt/klein-dm/pkg/turn"
)

type fakeService struct {
	gotKey    session.Key
	gotInputs []turn.Declaration
	reply     session.Reply
	err       error
	resets    int
}

func (f *fakeService) Submit(_ context.Context, key session.Key, in []turn.Declaration) (session.Reply, error) {
	f.gotKey, f.gotInputs = key, in
	return f.reply, f.err
}

func (f *fakeService) Dump(_ context.Context, key session.Key) (string, error) {
	if key.ChannelID == "none" {
		return "", session.ErrNoSession
	}
	return "Level 0 (1 queued)\n", nil
}

func (f *fakeService) Stats(context.Context, session.Key) (turn.Stats, error) {
	return turn.Stats{ActiveTurns: 2, CurrentLevel: 1, CurrentTurnID: "1.1", TotalTurnsStarted: 2, StackDepth: 2}, nil
}

func (f *fakeService) Reset(context.Context, session.Key) error {
	f.resets++
	return nil
}

func newTestClient(t *testing.T, svc session.Service) *Client {
	t.Helper()
	logger := pkgLogger.NewConsoleOnlyLogger(pkgLogger.LogLevelError, io.Discard)
	srv := httptest.NewServer(NewHandler(svc, logger))
	t.Cleanup(srv.Close)
	return NewClient(srv.Client(), srv.URL)
}

func TestSubmitRoundTrip(t *testing.T) {
	svc := &fakeService{reply: session.Reply{
		SessionID: "s1",
		Outputs:   []string{"Roll to hit.", "The goblin falls."},
		Deltas:    []domain.AttributeDelta{{Character: "Goblin", Attribute: "hp", Op: domain.DeltaAdd, Value: "-7"}},
		Awaiting:  &domain.Awaiting{Characters: []string{"Bob"}, ResponseType: domain.ResponseAction},
	}}
	c := newTestClient(t, svc)
	key := session.Key{ChannelType: "rpc", ChannelID: "table-1"}

	reply, err := c.Submit(context.Background(), key, []turn.Declaration{{Speaker: "Alice", Content: "I attack"}})
	if err != nil {
		t.Fatal(err)
	}
	if svc.gotKey != key || len(svc.gotInputs) != 1 || svc.gotInputs[0].Speaker != "Alice" {
		t.Errorf("server saw key=%+v inputs=%+v", svc.gotKey, svc.gotInputs)
	}
	if reply.SessionID != "s1" || len(reply.Outputs) != 2 || reply.Outputs[1] != "The goblin falls." {
		t.Errorf("unexpected reply: %+v", reply)
	}
	if len(reply.Deltas) != 1 || reply.Deltas[0].Value != "-7" {
		t.Errorf("deltas lost: %+v", reply.Deltas)
	}
	if reply.Awaiting == nil || reply.Awaiting.ResponseType != domain.ResponseAction {
		t.Errorf("awaiting lost: %+v", reply.Awaiting)
	}
}

func TestSubmitErrors(t *testing.T) {
	key := session.Key{ChannelType: "rpc", ChannelID: "t"}

	svc := &fakeService{err: errors.Join(turn.ErrStructural, errors.New("no active turn"))}
	c := newTestClient(t, svc)
	if _, err := c.Submit(context.Background(), key, nil); !errors.Is(err, turn.ErrStructural) {
		t.Errorf("expected structural error, got %v", err)
	}

	// a step that ended early still delivers its outputs
	svc.err = errors.New("loop guard exceeded")
	svc.reply = session.Reply{Outputs: []string{"..."}}
	reply, err := c.Submit(context.Background(), key, nil)
	if err != nil || reply.Error != "loop guard exceeded" {
		t.Errorf("partial reply = %+v, err = %v", reply, err)
	}

	if _, err := c.Submit(context.Background(), session.Key{}, nil); err == nil {
		t.Error("expected invalid argument for an empty key")
	}
}

func TestDumpStatsReset(t *testing.T) {
	svc := &fakeService{}
	c := newTestClient(t, svc)
	ctx := context.Background()
	key := session.Key{ChannelType: "rpc", ChannelID: "t"}

	dump, err := c.Dump(ctx, key)
	if err != nil || dump != "Level 0 (1 queued)\n" {
		t.Errorf("dump = %q, %v", dump, err)
	}
	if _, err := c.Dump(ctx, session.Key{ChannelType: "rpc", ChannelID: "none"}); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}

	stats, err := c.Stats(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CurrentTurnID != "1.1" || stats.ActiveTurns != 2 || stats.StackDepth != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if err := c.Reset(ctx, key); err != nil || svc.resets != 1 {
		t.Errorf("reset err=%v resets=%d", err, svc.resets)
	}
}
