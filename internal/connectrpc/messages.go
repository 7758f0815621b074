// Package connectrpc exposes a session.Service over Connect RPC. Messages
// travel as google.protobuf.Struct, so no generated code is needed.
package connectrpc

import (
	"encoding/json"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/fpt/klein-dm/internal/session"
	"github.com/fpt/klein-dm/pkg/turn"
)

// ServiceName is the fully-qualified RPC service name
const ServiceName = "kleindm.v1.TurnService"

// Procedure paths
const (
	SubmitProcedure = "/" + ServiceName + "/Submit"
	DumpProcedure   = "/" + ServiceName + "/Dump"
	StatsProcedure  = "/" + ServiceName + "/Stats"
	ResetProcedure  = "/" + ServiceName + "/Reset"
)

// KeyRequest addresses one session
type KeyRequest struct {
	ChannelType string `json:"channel_type"`
	ChannelID   string `json:"channel_id"`
}

func (r KeyRequest) key() session.Key {
	return session.Key{ChannelType: r.ChannelType, ChannelID: r.ChannelID}
}

func keyRequest(k session.Key) KeyRequest {
	return KeyRequest{ChannelType: k.ChannelType, ChannelID: k.ChannelID}
}

// SubmitRequest carries one batch of declarations
type SubmitRequest struct {
	KeyRequest
	Inputs []turn.Declaration `json:"inputs"`
}

// DumpResponse carries the rendered turn stack
type DumpResponse struct {
	Dump string `json:"dump"`
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, errors.Wrap(err, "failed to build struct message")
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "failed to read struct message")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to decode message")
	}
	return nil
}
