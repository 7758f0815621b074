package connectrpc

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/pkg/turn"
)

// Client implements session.Service against a remote TurnServer.
type Client struct {
	submit *connect.Client[structpb.Struct, structpb.Struct]
	dump   *connect.Client[structpb.Struct, structpb.Struct]
	stats  *connect.Client[structpb.Struct, structpb.Struct]
	reset  *connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient connects to baseURL, e.g. "http://localhost:50051". A nil
// httpClient uses http.DefaultClient.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	newClient := func(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
		return connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+procedure)
	}
	return &Client{
		submit: newClient(SubmitProcedure),
		dump:   newClient(DumpProcedure),
		stats:  newClient(StatsProcedure),
		reset:  newClient(ResetProcedure),
	}
}

func (c *Client) Submit(ctx context.Context, key session.Key, inputs []turn.Declaration) (session.Reply, error) {
	var reply session.Reply
	err := call(ctx, c.submit, SubmitRequest{KeyRequest: keyRequest(key), Inputs: inputs}, &reply)
	return reply, err
}

func (c *Client) Dump(ctx context.Context, key session.Key) (string, error) {
	var out DumpResponse
	err := call(ctx, c.dump, keyRequest(key), &out)
	return out.Dump, err
}

func (c *Client) Stats(ctx context.Context, key session.Key) (turn.Stats, error) {
	var out turn.Stats
	err := call(ctx, c.stats, keyRequest(key), &out)
	return out, err
}

func (c *Client) Reset(ctx context.Context, key session.Key) error {
	return call(ctx, c.reset, keyRequest(key), &struct{}{})
}

func call(ctx context.Context, c *connect.Client[structpb.Struct, structpb.Struct], in, out any) error {
	msg, err := toStruct(in)
	if err != nil {
		return err
	}
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return fromConnectError(err)
	}
	return fromStruct(resp.Msg, out)
}

// fromConnectError restores the sentinels callers match on
func fromConnectError(err error) error {
	switch connect.CodeOf(err) {
	case connect.CodeNotFound:
		return errors.Wrap(session.ErrNoSession, err.Error())
	case connect.CodeFailedPrecondition:
		return errors.Wrap(turn.ErrStructural, err.Error())
	case connect.CodeCanceled:
		return errors.Wrap(context.Canceled, err.Error())
	default:
		return err
	}
}

var _ session.Service = (*Client)(nil)
