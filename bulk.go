package pulse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tap30/pulse-go/adapters"
)

// Bulk importer defaults.
const (
	DefaultBulkInterval    = 5 * time.Second
	DefaultBulkSize        = 50
	DefaultBulkStoragePath = "bulk_data"

	// emptyTicksBeforeCallback is the number of consecutive idle ticks
	// after which the empty-queue callback fires.
	emptyTicksBeforeCallback = 3
)

// BulkConfig configures a Bulk importer.
type BulkConfig struct {
	AppKey string
	URL    string

	Interval    time.Duration
	BulkSize    int
	FailTimeout time.Duration
	MaxEvents   int

	ForcePost    bool
	PersistQueue bool
	Debug        bool

	StoragePath string
	Headers     map[string]string

	HTTPAdapter    HTTPAdapter
	StorageAdapter StorageAdapter
	LoggerAdapter  LoggerAdapter

	// Forwarder makes the importer a secondary that forwards everything
	// to the primary importer.
	Forwarder Forwarder

	clock clock
}

// Bulk imports data for many devices through the bulk endpoint. Requests
// wait in a pending queue, get grouped into envelopes of up to BulkSize
// requests and are delivered one envelope per tick.
type Bulk struct {
	mu sync.Mutex

	config    BulkConfig
	clock     clock
	stamper   *msStamper
	logger    LoggerAdapter
	store     *blobStore
	forwarder Forwarder

	requests   *RequestQueue
	events     map[string][]Event
	envelopes  *RequestQueue
	dispatcher *Dispatcher

	onEmpty    func()
	emptyCount int
}

// NewBulk validates config and restores persisted queues when
// PersistQueue is set.
func NewBulk(config BulkConfig) (*Bulk, error) {
	if config.AppKey == "" {
		return nil, ErrMissingAppKey
	}
	if config.URL == "" {
		return nil, ErrMissingURL
	}

	if config.Interval <= 0 {
		config.Interval = DefaultBulkInterval
	}
	if config.BulkSize <= 0 {
		config.BulkSize = DefaultBulkSize
	}
	if config.FailTimeout <= 0 {
		config.FailTimeout = DefaultFailTimeout
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = DefaultMaxEvents
	}
	if config.StoragePath == "" {
		config.StoragePath = DefaultBulkStoragePath
	}
	if config.LoggerAdapter == nil {
		config.LoggerAdapter = defaultLogger(config.Debug)
	}
	if config.HTTPAdapter == nil {
		config.HTTPAdapter = adapters.NewNetHTTPAdapter(nil)
	}
	if !config.PersistQueue {
		config.StorageAdapter = adapters.NewNoOpStorageAdapter()
	} else if config.StorageAdapter == nil {
		fs, err := adapters.NewFileStorageAdapter(config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		config.StorageAdapter = fs
	}
	if config.clock == nil {
		config.clock = realClock{}
	}

	b := &Bulk{
		config:    config,
		clock:     config.clock,
		stamper:   newMsStamper(config.clock),
		logger:    config.LoggerAdapter,
		forwarder: config.Forwarder,
		events:    make(map[string][]Event),
	}
	b.store = newBlobStore(config.StorageAdapter, b.logger)
	b.requests = newRequestQueue(queueOptions{
		sdkName:    BulkSDKName,
		sdkVersion: BulkSDKVersion,
		stamper:    b.stamper,
		store:      b.store,
		key:        keyBulkRequests,
	})
	b.envelopes = newRequestQueue(queueOptions{
		sdkName:    BulkSDKName,
		sdkVersion: BulkSDKVersion,
		stamper:    b.stamper,
		store:      b.store,
		key:        keyBulkEnvelopes,
	})
	b.dispatcher = newDispatcher(DispatcherConfig{
		Endpoint:    endpointURL(config.URL, bulkAPIPath),
		Interval:    config.Interval,
		FailTimeout: config.FailTimeout,
		ForcePost:   config.ForcePost,
		Headers:     config.Headers,
	}, dispatcherDeps{
		mu:     &b.mu,
		queue:  b.envelopes,
		http:   config.HTTPAdapter,
		logger: b.logger,
		clock:  b.clock,
	})
	b.dispatcher.housekeeping = b.housekeeping

	if config.PersistQueue && config.Forwarder == nil {
		b.requests.Load()
		b.envelopes.Load()
		var events map[string][]Event
		if b.store.load(keyBulkEvents, &events) {
			b.events = events
		}
	}
	return b, nil
}

// AddRequest queues a raw request for one device. app_key defaults to the
// importer's.
func (b *Bulk) AddRequest(req Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.forwarder != nil {
		b.forward(Message{Type: MessageRequest, Request: &req})
		return
	}
	b.addRequestLocked(req)
}

// AddBulkRequest queues several raw requests. Requests without a device
// id are logged and skipped.
func (b *Bulk) AddBulkRequest(reqs []Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.forwarder != nil {
		b.forward(Message{Type: MessageBulk, Requests: reqs})
		return
	}
	for _, req := range reqs {
		b.addRequestLocked(req)
	}
}

func (b *Bulk) addRequestLocked(req Request) {
	if req.DeviceID == "" {
		b.logger.Error("device_id is missing")
		return
	}
	if req.AppKey == "" {
		req.AppKey = b.config.AppKey
	}
	if req.Timestamp != 0 && !validTimestamp(req.Timestamp) {
		b.logger.Warn("Incorrect timestamp format %d", req.Timestamp)
	}
	req.SDKName = BulkSDKName
	req.SDKVersion = BulkSDKVersion

	if err := b.requests.Enqueue(req); err != nil {
		b.logger.Error("Failed to queue request: %v", err)
	}
}

// AddEvent queues an event for deviceID. Events are batched per device.
// A supplied timestamp (seconds or milliseconds) is kept.
func (b *Bulk) AddEvent(deviceID string, e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if deviceID == "" {
		b.logger.Error("device_id is missing")
		return
	}
	if e.Key == "" {
		b.logger.Error("Event must have key property")
		return
	}
	if b.forwarder != nil {
		b.forward(Message{Type: MessageDeviceEvent, DeviceID: deviceID, Event: &e})
		return
	}
	b.addEventLocked(deviceID, e)
}

func (b *Bulk) addEventLocked(deviceID string, e Event) {
	b.events[deviceID] = append(b.events[deviceID], stampEvent(e, b.stamper))
	b.store.save(keyBulkEvents, b.events)
}

// AddUser returns a helper that reports data for one device.
func (b *Bulk) AddUser(config BulkUserConfig) (*BulkUser, error) {
	if config.DeviceID == "" {
		return nil, ErrMissingDeviceID
	}
	return newBulkUser(b, config), nil
}

// Start begins processing. onEmpty, if not nil, is called on its own
// goroutine after three consecutive ticks with nothing to do.
func (b *Bulk) Start(onEmpty func()) {
	if b.forwarder != nil {
		return
	}
	b.mu.Lock()
	b.onEmpty = onEmpty
	b.emptyCount = 0
	b.mu.Unlock()

	b.dispatcher.Start()
}

// Stop stops processing. A delivery in flight still completes.
func (b *Bulk) Stop() {
	b.dispatcher.Stop()
}

// Flush delivers everything queued now and returns the first delivery
// error.
func (b *Bulk) Flush(ctx context.Context) error {
	if b.forwarder != nil {
		return nil
	}
	return b.dispatcher.Flush(ctx)
}

// QueueSize estimates the number of outbound calls still needed.
func (b *Bulk) QueueSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := 0
	for _, e := range b.events {
		events += len(e)
	}
	return ceilDiv(events, b.config.MaxEvents) +
		ceilDiv(b.requests.Pending(), b.config.BulkSize) +
		b.envelopes.Len()
}

// ApplyMessage applies a message forwarded by a secondary importer.
func (b *Bulk) ApplyMessage(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Type {
	case MessageRequest:
		if msg.Request != nil {
			b.addRequestLocked(*msg.Request)
		}
	case MessageBulk:
		for _, req := range msg.Requests {
			b.addRequestLocked(req)
		}
	case MessageDeviceEvent:
		if msg.Event != nil && msg.DeviceID != "" && msg.Event.Key != "" {
			b.addEventLocked(msg.DeviceID, *msg.Event)
		}
	default:
		b.logger.Warn("Unsupported message type %q", msg.Type)
	}
}

func (b *Bulk) forward(msg Message) {
	if err := b.forwarder.Forward(msg); err != nil {
		b.logger.Error("Failed to forward %s message: %v", msg.Type, err)
	}
}

// housekeeping turns per-device events into requests, groups pending
// requests into one envelope and tracks idle ticks.
func (b *Bulk) housekeeping() {
	idle := true

	devices := make([]string, 0, len(b.events))
	for id, events := range b.events {
		if len(events) > 0 {
			devices = append(devices, id)
		}
	}
	sort.Strings(devices)
	for _, id := range devices {
		batch, rest := splitBatch(b.events[id], b.config.MaxEvents)
		if len(rest) == 0 {
			delete(b.events, id)
		} else {
			b.events[id] = rest
		}
		b.addRequestLocked(Request{DeviceID: id, Events: batch})
	}
	if len(devices) > 0 {
		idle = false
		b.store.save(keyBulkEvents, b.events)
	}

	if b.requests.Pending() > 0 {
		idle = false
		envelope := Request{AppKey: b.config.AppKey, Requests: b.requests.Drain(b.config.BulkSize)}
		if err := b.envelopes.Enqueue(envelope); err != nil {
			b.logger.Error("Failed to queue bulk request: %v", err)
		}
	}

	if !b.envelopes.IsEmpty() {
		idle = false
	}

	if !idle {
		b.emptyCount = 0
		return
	}
	b.emptyCount++
	if b.emptyCount == emptyTicksBeforeCallback {
		b.emptyCount = 0
		if b.onEmpty != nil {
			go b.onEmpty()
		}
	}
}

func ceilDiv(n, d int) int {
	if d <= 0 {
		return n
	}
	return (n + d - 1) / d
}
