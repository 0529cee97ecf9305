// Package protocol defines the messages exchanged over a hubwire
// connection and the codec boundary that maps them to and from bytes.
//
// The connection engine depends only on the tagged variants below. How
// a message is laid out on the wire is the codec's business, which
// makes the wire format swappable without touching the engine.
package protocol

// Message is implemented by every protocol message variant.
type Message interface {
	isMessage()
}

// Invocation asks the peer to run a named method. The arguments are
// already encoded payloads; any streamed arguments are announced by id
// and fed afterwards via StreamItem frames.
type Invocation struct {
	// ID correlates the eventual Completion. Empty for fire-and-forget
	// invocations that never receive one.
	ID     string
	Method string
	// Args holds one encoded payload per non-stream argument, in order.
	Args [][]byte
	// StreamIDs names the upload streams feeding this invocation.
	StreamIDs []string
}

// StreamItem carries one value of the stream identified by ID. The
// same frame shape is used in both directions: client→server for
// upload streams and server→client for streamed results.
type StreamItem struct {
	ID   string
	Item []byte
}

// Completion resolves the invocation with the matching ID. Result is
// nil for void invocations; a non-empty Error means the method failed
// on the server and Result is meaningless.
type Completion struct {
	ID     string
	Result []byte
	Error  string
}

// StreamComplete terminates an upload stream. A non-empty Error tells
// the server the stream ended abnormally (typically cancellation).
type StreamComplete struct {
	ID    string
	Error string
}

// Ping carries nothing; it exists only to prove the peer is alive.
type Ping struct{}

// Close announces that the peer is shutting the connection down,
// optionally blaming an error.
type Close struct {
	Error string
}

func (*Invocation) isMessage()     {}
func (*StreamItem) isMessage()     {}
func (*Completion) isMessage()     {}
func (*StreamComplete) isMessage() {}
func (*Ping) isMessage()           {}
func (*Close) isMessage()          {}

// Codec translates protocol messages and payload values to and from
// bytes. Implementations must be safe for concurrent use; the engine
// calls Serialize from multiple goroutines.
type Codec interface {
	// Parse decodes one inbound frame. A non-nil error means the frame
	// could not be attributed to any message variant.
	Parse(data []byte) (Message, error)
	Serialize(msg Message) ([]byte, error)

	// EncodePayload encodes one argument or stream item value.
	EncodePayload(v any) ([]byte, error)
	// DecodePayload decodes a result or item payload into the value
	// pointed to by into. A nil into discards the payload.
	DecodePayload(data []byte, into any) error
}
