package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame type tags used by the JSON envelope.
const (
	jsonKindInvocation     = 1
	jsonKindStreamItem     = 2
	jsonKindCompletion     = 3
	jsonKindStreamComplete = 4
	jsonKindPing           = 5
	jsonKindClose          = 6
)

type jsonEnvelope struct {
	Kind      int               `json:"type"`
	ID        string            `json:"invocationId,omitempty"`
	Method    string            `json:"target,omitempty"`
	Args      []json.RawMessage `json:"arguments,omitempty"`
	StreamIDs []string          `json:"streamIds,omitempty"`
	Item      json.RawMessage   `json:"item,omitempty"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// JSONCodec frames every message as a single JSON object carrying a
// numeric type tag. Payloads pass through untouched as raw JSON, so
// argument and result values can be any json-marshalable type.
//
// JSONCodec is the default codec.
type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) Parse(data []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	switch env.Kind {
	case jsonKindInvocation:
		if env.Method == "" {
			return nil, fmt.Errorf("invocation frame without a target")
		}
		inv := &Invocation{
			ID:        env.ID,
			Method:    env.Method,
			StreamIDs: env.StreamIDs,
		}
		for _, arg := range env.Args {
			inv.Args = append(inv.Args, []byte(arg))
		}
		return inv, nil
	case jsonKindStreamItem:
		if env.ID == "" {
			return nil, fmt.Errorf("stream item frame without an id")
		}
		return &StreamItem{ID: env.ID, Item: []byte(env.Item)}, nil
	case jsonKindCompletion:
		if env.ID == "" {
			return nil, fmt.Errorf("completion frame without an id")
		}
		return &Completion{ID: env.ID, Result: []byte(env.Result), Error: env.Error}, nil
	case jsonKindStreamComplete:
		if env.ID == "" {
			return nil, fmt.Errorf("stream complete frame without an id")
		}
		return &StreamComplete{ID: env.ID, Error: env.Error}, nil
	case jsonKindPing:
		return &Ping{}, nil
	case jsonKindClose:
		return &Close{Error: env.Error}, nil
	default:
		return nil, fmt.Errorf("unknown frame type %d", env.Kind)
	}
}

func (JSONCodec) Serialize(msg Message) ([]byte, error) {
	var env jsonEnvelope
	switch m := msg.(type) {
	case *Invocation:
		env.Kind = jsonKindInvocation
		env.ID = m.ID
		env.Method = m.Method
		env.StreamIDs = m.StreamIDs
		for _, arg := range m.Args {
			env.Args = append(env.Args, json.RawMessage(arg))
		}
	case *StreamItem:
		env.Kind = jsonKindStreamItem
		env.ID = m.ID
		env.Item = json.RawMessage(m.Item)
	case *Completion:
		env.Kind = jsonKindCompletion
		env.ID = m.ID
		env.Result = json.RawMessage(m.Result)
		env.Error = m.Error
	case *StreamComplete:
		env.Kind = jsonKindStreamComplete
		env.ID = m.ID
		env.Error = m.Error
	case *Ping:
		env.Kind = jsonKindPing
	case *Close:
		env.Kind = jsonKindClose
		env.Error = m.Error
	default:
		return nil, fmt.Errorf("unknown message type %T", msg)
	}
	return json.Marshal(&env)
}

func (JSONCodec) EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) DecodePayload(data []byte, into any) error {
	if into == nil {
		return nil
	}
	if len(data) == 0 {
		// void result decoded into a target; leave it zero
		return nil
	}
	return json.Unmarshal(data, into)
}
