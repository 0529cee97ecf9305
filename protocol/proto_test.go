package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestProtoEnvelopeRoundTrip(t *testing.T) {
	codec := ProtoCodec{}

	messages := []Message{
		&Invocation{ID: "1", Method: "Sum", Args: [][]byte{{0x08, 0x2a}}, StreamIDs: []string{"2"}},
		&StreamItem{ID: "2", Item: []byte{0x08, 0x2b}},
		&Completion{ID: "1", Result: []byte{0x08, 0x2c}},
		&Completion{ID: "1", Error: "nope"},
		&StreamComplete{ID: "2", Error: "cancelled"},
		&Ping{},
		&Close{Error: "bye"},
	}
	for _, msg := range messages {
		data, err := codec.Serialize(msg)
		require.NoError(t, err)
		got, err := codec.Parse(data)
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}
}

func TestProtoParseRejectsGarbage(t *testing.T) {
	codec := ProtoCodec{}

	// kind 0 is never valid
	_, err := codec.Parse(nil)
	require.Error(t, err)

	_, err = codec.Parse([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestProtoPayloadsRequireProtoMessages(t *testing.T) {
	codec := ProtoCodec{}

	data, err := codec.EncodePayload(wrapperspb.Int64(42))
	require.NoError(t, err)

	var got wrapperspb.Int64Value
	require.NoError(t, codec.DecodePayload(data, &got))
	require.EqualValues(t, 42, got.GetValue())

	_, err = codec.EncodePayload("not a proto message")
	require.Error(t, err)
	require.Error(t, codec.DecodePayload(data, "not a proto message"))

	// nil target discards
	require.NoError(t, codec.DecodePayload(data, nil))
}
