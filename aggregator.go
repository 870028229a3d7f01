package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// MessageType tags what a secondary forwards to the primary.
type MessageType string

const (
	// MessageQueue carries a request built by a tracking call. The primary
	// stamps it with its own envelope.
	MessageQueue MessageType = "queue"
	// MessageRequest carries a raw request enqueued as-is.
	MessageRequest MessageType = "request"
	// MessageBulk carries a list of raw requests for the bulk importer.
	MessageBulk MessageType = "bulk"
	// MessageEvent carries an event for the primary's event batch.
	MessageEvent MessageType = "event"
	// MessageDeviceEvent carries an event for one device of the bulk importer.
	MessageDeviceEvent MessageType = "device_event"
	// MessageChangeID carries a device id change.
	MessageChangeID MessageType = "change_id"
)

// Message is one mutation forwarded from a secondary to the primary.
type Message struct {
	Type     MessageType `json:"type"`
	Request  *Request    `json:"request,omitempty"`
	Requests []Request   `json:"requests,omitempty"`
	DeviceID string      `json:"device_id,omitempty"`
	Event    *Event      `json:"event,omitempty"`
	NewID    string      `json:"new_id,omitempty"`
	Merge    bool        `json:"merge,omitempty"`
}

// Forwarder sends messages from a secondary to the primary.
type Forwarder interface {
	Forward(msg Message) error
}

// MessageSink applies forwarded messages. Client and Bulk implement it.
type MessageSink interface {
	ApplyMessage(msg Message)
}

var ErrForwarderClosed = errors.New("forwarder is closed")

// ChannelForwarder forwards messages over an in-process channel.
type ChannelForwarder struct {
	ch chan<- Message
}

var _ Forwarder = (*ChannelForwarder)(nil)

func NewChannelForwarder(ch chan<- Message) *ChannelForwarder {
	return &ChannelForwarder{ch: ch}
}

func (f *ChannelForwarder) Forward(msg Message) error {
	f.ch <- msg
	return nil
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("pulse: CBOR encoder initialization failed: " + err.Error())
	}
	// Segmentation and extra values decode as map[string]any so they
	// re-encode to JSON unchanged.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("pulse: CBOR decoder initialization failed: " + err.Error())
	}
}

// StreamForwarder writes CBOR-encoded messages to w, typically a pipe or
// socket to the primary process.
type StreamForwarder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closed bool
}

var _ Forwarder = (*StreamForwarder)(nil)

func NewStreamForwarder(w io.Writer) *StreamForwarder {
	return &StreamForwarder{enc: cborEnc.NewEncoder(w)}
}

func (f *StreamForwarder) Forward(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrForwarderClosed
	}
	if err := f.enc.Encode(msg); err != nil {
		return fmt.Errorf("forward %s message: %w", msg.Type, err)
	}
	return nil
}

// Close stops further forwarding. The underlying writer is not closed.
func (f *StreamForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Aggregator feeds forwarded messages into the primary's sink, which stays
// the only mutator of its queues.
type Aggregator struct {
	sink   MessageSink
	logger LoggerAdapter
}

func NewAggregator(sink MessageSink, logger LoggerAdapter) *Aggregator {
	if logger == nil {
		logger = defaultLogger(false)
	}
	return &Aggregator{sink: sink, logger: logger}
}

// Serve applies messages from ch until ch is closed or ctx ends.
func (a *Aggregator) Serve(ctx context.Context, ch <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			a.sink.ApplyMessage(msg)
		}
	}
}

// ServeStream decodes CBOR messages from r and applies them. It returns nil
// at a clean end of stream.
func (a *Aggregator) ServeStream(ctx context.Context, r io.Reader) error {
	dec := cborDec.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode message: %w", err)
		}
		a.sink.ApplyMessage(msg)
	}
}
