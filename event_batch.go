package pulse

import "errors"

var ErrMissingEventKey = errors.New("event must have key property")

// EventBatch accumulates events until the heartbeat drains them into a
// request. Not safe for concurrent use; its owner serializes access.
type EventBatch struct {
	events  []Event
	stamper *msStamper
	store   *blobStore
	key     string
}

func newEventBatch(stamper *msStamper, store *blobStore, key string) *EventBatch {
	return &EventBatch{stamper: stamper, store: store, key: key}
}

// Load replaces the batch with the persisted one.
func (b *EventBatch) Load() {
	var events []Event
	if b.store.load(b.key, &events) {
		b.events = events
	}
}

// Add stamps and appends e.
func (b *EventBatch) Add(e Event) error {
	if e.Key == "" {
		return ErrMissingEventKey
	}
	b.events = append(b.events, stampEvent(e, b.stamper))
	b.persist()
	return nil
}

// Drain removes and returns at most max events in insertion order.
func (b *EventBatch) Drain(max int) []Event {
	if len(b.events) == 0 {
		return nil
	}
	var out []Event
	out, b.events = splitBatch(b.events, max)
	b.persist()
	return out
}

// Len returns the number of queued events.
func (b *EventBatch) Len() int {
	return len(b.events)
}

// Events returns a copy of the queued events.
func (b *EventBatch) Events() []Event {
	return append([]Event(nil), b.events...)
}

func (b *EventBatch) persist() {
	events := b.events
	if events == nil {
		events = []Event{}
	}
	b.store.save(b.key, events)
}

// stampEvent defaults count to 1 and fills timestamp, hour and dow. A
// supplied timestamp (seconds or milliseconds) is kept.
func stampEvent(e Event, stamper *msStamper) Event {
	if e.Count == 0 {
		e.Count = 1
	}
	if e.Timestamp == 0 {
		e.Timestamp = stamper.Next()
	}
	e.Hour, e.Dow = hourDow(timeOf(e.Timestamp))
	return e
}

// splitBatch returns the first max events and the remainder. The whole
// slice goes out when it fits.
func splitBatch(events []Event, max int) (batch, rest []Event) {
	if max <= 0 || len(events) <= max {
		return events, nil
	}
	batch = append([]Event(nil), events[:max]...)
	rest = append([]Event(nil), events[max:]...)
	return batch, rest
}
