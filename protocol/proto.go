package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// Envelope field numbers. The envelope is framed by hand with the
// protowire package so the codec needs no generated types.
const (
	protoFieldKind     = 1
	protoFieldID       = 2
	protoFieldMethod   = 3
	protoFieldArg      = 4 // repeated
	protoFieldStreamID = 5 // repeated
	protoFieldItem     = 6
	protoFieldResult   = 7
	protoFieldError    = 8
)

const (
	protoKindInvocation = iota + 1
	protoKindStreamItem
	protoKindCompletion
	protoKindStreamComplete
	protoKindPing
	protoKindClose
)

// ProtoCodec frames messages as a compact protobuf envelope and
// encodes payloads with proto.Marshal. Payload values must implement
// proto.Message; use it when both peers share protobuf schemas for
// their arguments and results.
type ProtoCodec struct{}

var _ Codec = ProtoCodec{}

func (ProtoCodec) Serialize(msg Message) ([]byte, error) {
	var buf []byte
	kind := func(k uint64) {
		buf = protowire.AppendTag(buf, protoFieldKind, protowire.VarintType)
		buf = protowire.AppendVarint(buf, k)
	}
	str := func(num protowire.Number, s string) {
		if s == "" {
			return
		}
		buf = protowire.AppendTag(buf, num, protowire.BytesType)
		buf = protowire.AppendString(buf, s)
	}
	raw := func(num protowire.Number, b []byte) {
		if b == nil {
			return
		}
		buf = protowire.AppendTag(buf, num, protowire.BytesType)
		buf = protowire.AppendBytes(buf, b)
	}

	switch m := msg.(type) {
	case *Invocation:
		kind(protoKindInvocation)
		str(protoFieldID, m.ID)
		str(protoFieldMethod, m.Method)
		for _, arg := range m.Args {
			if arg == nil {
				arg = []byte{}
			}
			raw(protoFieldArg, arg)
		}
		for _, id := range m.StreamIDs {
			str(protoFieldStreamID, id)
		}
	case *StreamItem:
		kind(protoKindStreamItem)
		str(protoFieldID, m.ID)
		raw(protoFieldItem, m.Item)
	case *Completion:
		kind(protoKindCompletion)
		str(protoFieldID, m.ID)
		raw(protoFieldResult, m.Result)
		str(protoFieldError, m.Error)
	case *StreamComplete:
		kind(protoKindStreamComplete)
		str(protoFieldID, m.ID)
		str(protoFieldError, m.Error)
	case *Ping:
		kind(protoKindPing)
	case *Close:
		kind(protoKindClose)
		str(protoFieldError, m.Error)
	default:
		return nil, fmt.Errorf("unknown message type %T", msg)
	}
	return buf, nil
}

func (ProtoCodec) Parse(data []byte) (Message, error) {
	var (
		kind      uint64
		id        string
		method    string
		errMsg    string
		args      [][]byte
		streamIDs []string
		item      []byte
		result    []byte
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("malformed frame: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == protoFieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed frame: %w", protowire.ParseError(n))
			}
			kind = v
			data = data[n:]
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed frame: %w", protowire.ParseError(n))
			}
			switch num {
			case protoFieldID:
				id = string(v)
			case protoFieldMethod:
				method = string(v)
			case protoFieldArg:
				args = append(args, append([]byte(nil), v...))
			case protoFieldStreamID:
				streamIDs = append(streamIDs, string(v))
			case protoFieldItem:
				item = append([]byte(nil), v...)
			case protoFieldResult:
				result = append([]byte(nil), v...)
			case protoFieldError:
				errMsg = string(v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("malformed frame: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	switch kind {
	case protoKindInvocation:
		if method == "" {
			return nil, fmt.Errorf("invocation frame without a target")
		}
		return &Invocation{ID: id, Method: method, Args: args, StreamIDs: streamIDs}, nil
	case protoKindStreamItem:
		if id == "" {
			return nil, fmt.Errorf("stream item frame without an id")
		}
		return &StreamItem{ID: id, Item: item}, nil
	case protoKindCompletion:
		if id == "" {
			return nil, fmt.Errorf("completion frame without an id")
		}
		return &Completion{ID: id, Result: result, Error: errMsg}, nil
	case protoKindStreamComplete:
		if id == "" {
			return nil, fmt.Errorf("stream complete frame without an id")
		}
		return &StreamComplete{ID: id, Error: errMsg}, nil
	case protoKindPing:
		return &Ping{}, nil
	case protoKindClose:
		return &Close{Error: errMsg}, nil
	default:
		return nil, fmt.Errorf("unknown frame kind %d", kind)
	}
}

func (ProtoCodec) EncodePayload(v any) ([]byte, error) {
	pm, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("payload type %T does not implement proto.Message", v)
	}
	return proto.Marshal(pm)
}

func (ProtoCodec) DecodePayload(data []byte, into any) error {
	if into == nil {
		return nil
	}
	pm, ok := into.(proto.Message)
	if !ok {
		return fmt.Errorf("payload target type %T does not implement proto.Message", into)
	}
	return proto.Unmarshal(data, pm)
}
