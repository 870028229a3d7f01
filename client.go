package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tap30/pulse-go/adapters"
)

var ErrMissingURL = errors.New("url is missing")

// Client is one SDK instance. It owns the request queue, the event batch,
// session and consent state, all guarded by a single mutex shared with its
// dispatcher.
//
// A Client configured with a Forwarder is a secondary: it keeps its own
// session and timer state but forwards every queue, batch and identity
// mutation to the primary.
type Client struct {
	mu sync.Mutex

	config    ClientConfig
	clock     clock
	stamper   *msStamper
	logger    LoggerAdapter
	store     *blobStore
	metrics   MetricsProvider
	forwarder Forwarder

	queue      *RequestQueue
	batch      *EventBatch
	consent    *ConsentGate
	dispatcher *Dispatcher

	deviceID    string
	initialized bool
	startTime   int64

	session     sessionState
	trackTime   bool
	timedEvents map[string]int64
	view        viewState

	customData    *customProperties
	crashLogs     []string
	crashSegments map[string]any

	// Calls deferred for lack of consent, replayed once consent arrives.
	deferredSession *bool
	deferredView    *string

	consentTimer stopper
	consentGen   int
}

// NewClient validates config and applies defaults. Call Init before
// tracking anything.
func NewClient(config ClientConfig) (*Client, error) {
	if config.AppKey == "" {
		return nil, ErrMissingAppKey
	}
	if config.URL == "" {
		return nil, ErrMissingURL
	}

	if config.AppVersion == "" {
		config.AppVersion = DefaultAppVersion
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.FailTimeout <= 0 {
		config.FailTimeout = DefaultFailTimeout
	}
	if config.SessionUpdate <= 0 {
		config.SessionUpdate = DefaultSessionUpdate
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = DefaultMaxEvents
	}
	if config.ConsentSyncWindow <= 0 {
		config.ConsentSyncWindow = DefaultConsentSyncWindow
	}
	if config.StoragePath == "" {
		config.StoragePath = DefaultStoragePath
	}
	if config.LoggerAdapter == nil {
		config.LoggerAdapter = defaultLogger(config.Debug)
	}
	if config.HTTPAdapter == nil {
		config.HTTPAdapter = adapters.NewNetHTTPAdapter(nil)
	}
	if config.MetricsProvider == nil {
		config.MetricsProvider = adapters.NewOSMetricsProvider(nil)
	}
	if config.StorageAdapter == nil && config.Forwarder == nil {
		fs, err := adapters.NewFileStorageAdapter(config.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		config.StorageAdapter = fs
	}
	if config.clock == nil {
		config.clock = realClock{}
	}

	c := &Client{
		config:      config,
		clock:       config.clock,
		stamper:     newMsStamper(config.clock),
		logger:      config.LoggerAdapter,
		metrics:     config.MetricsProvider,
		forwarder:   config.Forwarder,
		trackTime:   true,
		timedEvents: make(map[string]int64),
		customData:  newCustomProperties(),
	}
	c.store = newBlobStore(config.StorageAdapter, c.logger)
	c.queue = newRequestQueue(queueOptions{
		size:       config.QueueSize,
		sdkName:    SDKName,
		sdkVersion: SDKVersion,
		stamper:    c.stamper,
		store:      c.store,
		key:        keyQueue,
	})
	c.batch = newEventBatch(c.stamper, c.store, keyEvents)
	c.consent = newConsentGate(config.RequireConsent, c.logger)

	c.dispatcher = newDispatcher(DispatcherConfig{
		Endpoint:    endpointURL(config.URL, apiPath),
		Interval:    config.Interval,
		FailTimeout: config.FailTimeout,
		ForcePost:   config.ForcePost,
		Headers:     config.Headers,
	}, dispatcherDeps{
		mu:     &c.mu,
		queue:  c.queue,
		http:   config.HTTPAdapter,
		logger: c.logger,
		clock:  c.clock,
	})
	c.dispatcher.housekeeping = c.housekeeping
	c.dispatcher.beforeSend = c.attachConsent

	return c, nil
}

func defaultLogger(debug bool) LoggerAdapter {
	if debug {
		return adapters.NewPrintLoggerAdapter(adapters.LogLevelDebug)
	}
	return adapters.NewPrintLoggerAdapter(adapters.LogLevelWarn)
}

// Init resolves the device id, restores persisted queues and starts the
// heartbeat. Calling Init twice is a no-op.
func (c *Client) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	c.startTime = c.now()

	if c.forwarder != nil {
		c.deviceID = c.config.DeviceID
		c.initialized = true
		c.logger.Info("Client initialized as secondary")
		return nil
	}

	c.queue.Load()
	c.batch.Load()

	var stored string
	switch {
	case c.config.DeviceID != "":
		c.deviceID = c.config.DeviceID
	case c.store.load(keyDeviceID, &stored) && stored != "":
		c.deviceID = stored
	default:
		c.deviceID = uuid.NewString()
	}
	c.store.save(keyDeviceID, c.deviceID)

	c.initialized = true
	c.dispatcher.Start()
	if c.consent.HasStaged() {
		c.scheduleConsentSyncLocked()
	}

	c.logger.Info("Client initialized", map[string]any{
		"device_id": c.deviceID,
		"queued":    c.queue.Len(),
		"events":    c.batch.Len(),
	})
	return nil
}

// Dispose stops the heartbeat, waits for an in-flight delivery to finish
// (or ctx to end) and queues staged consent changes. Queued data stays
// persisted for the next Init.
func (c *Client) Dispose(ctx context.Context) error {
	c.dispatcher.Stop()
	err := c.dispatcher.Wait(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consentTimer != nil {
		c.consentTimer.Stop()
		c.consentTimer = nil
	}
	if c.initialized {
		if staged := c.consent.TakeStaged(); staged != nil {
			c.toQueueLocked(Request{Consent: staged})
		}
	}
	c.initialized = false
	return err
}

// Flush delivers queued data now, one request at a time, and returns the
// first delivery error.
func (c *Client) Flush(ctx context.Context) error {
	if c.forwarder != nil {
		return nil
	}
	return c.dispatcher.Flush(ctx)
}

// DeviceID returns the current device id.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// QueueLen returns the number of queued requests, including one in flight.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// PendingEvents returns the number of events not yet batched into a request.
func (c *Client) PendingEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batch.Len()
}

// QueuedRequests returns a snapshot of the request queue.
func (c *Client) QueuedRequests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.ToSlice()
}

// Request queues a raw request as-is. It must carry app_key and device_id.
func (c *Client) Request(req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.AppKey == "" || req.DeviceID == "" {
		c.logger.Error("app_key or device_id is missing")
		return
	}
	if c.forwarder != nil {
		c.forward(Message{Type: MessageRequest, Request: &req})
		return
	}
	if !c.readyLocked() {
		return
	}
	if err := c.queue.Enqueue(req); err != nil {
		c.logger.Error("Failed to queue request: %v", err)
	}
}

// ApplyMessage applies a message forwarded by a secondary.
func (c *Client) ApplyMessage(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		c.logger.Warn("Dropping %s message, client is not initialized", msg.Type)
		return
	}

	switch msg.Type {
	case MessageQueue:
		if msg.Request != nil {
			c.toQueueLocked(*msg.Request)
		}
	case MessageRequest:
		if msg.Request != nil {
			if err := c.queue.Enqueue(*msg.Request); err != nil {
				c.logger.Error("Failed to queue forwarded request: %v", err)
			}
		}
	case MessageEvent:
		if msg.Event != nil {
			c.addEventLocked(*msg.Event)
		}
	case MessageChangeID:
		c.changeIDLocked(msg.NewID, msg.Merge)
	default:
		c.logger.Warn("Unsupported message type %q", msg.Type)
	}
}

func (c *Client) forward(msg Message) {
	if err := c.forwarder.Forward(msg); err != nil {
		c.logger.Error("Failed to forward %s message: %v", msg.Type, err)
	}
}

func (c *Client) now() int64 {
	return c.clock.Now().Unix()
}

// readyLocked reports whether tracking calls may proceed.
func (c *Client) readyLocked() bool {
	if !c.initialized {
		c.logger.Warn("Client is not initialized, call Init first")
		return false
	}
	return true
}

// toQueueLocked stamps req with the client's envelope and queues it, or
// forwards it to the primary.
func (c *Client) toQueueLocked(req Request) {
	if c.forwarder != nil {
		c.forward(Message{Type: MessageQueue, Request: &req})
		return
	}

	req.AppKey = c.config.AppKey
	req.DeviceID = c.deviceID
	req.SDKName = SDKName
	req.SDKVersion = SDKVersion
	if c.config.CountryCode != "" {
		req.CountryCode = c.config.CountryCode
	}
	if c.config.City != "" {
		req.City = c.config.City
	}
	if c.config.IPAddress != "" {
		req.IPAddress = c.config.IPAddress
	}
	req.Timestamp = 0

	if err := c.queue.Enqueue(req); err != nil {
		c.logger.Error("Failed to queue request: %v", err)
	}
}

// addEventLocked appends e to the batch, or forwards it to the primary.
// Consent is checked by the caller.
func (c *Client) addEventLocked(e Event) {
	if e.Key == "" {
		c.logger.Error("Event must have key property")
		return
	}
	if c.forwarder != nil {
		c.forward(Message{Type: MessageEvent, Event: &e})
		return
	}
	e.Timestamp = 0
	if err := c.batch.Add(e); err != nil {
		c.logger.Error("Failed to add event: %v", err)
		return
	}
	c.logger.Debug("Adding event", map[string]any{"key": e.Key})
}

// housekeeping runs at the start of every tick: session extension, then
// batching.
func (c *Client) housekeeping() {
	if !c.initialized {
		return
	}
	if c.session.started && c.session.autoExtend && c.trackTime {
		now := c.now()
		if now-c.session.lastBeat > int64(c.config.SessionUpdate/time.Second) {
			c.sessionDurationLocked(now - c.session.lastBeat)
			c.session.lastBeat = now
		}
	}
	if c.batch.Len() > 0 {
		c.toQueueLocked(Request{Events: c.batch.Drain(c.config.MaxEvents)})
	}
}

// metricsLocked returns provider metrics with config overrides and the
// app version applied.
func (c *Client) metricsLocked() map[string]string {
	m := c.metrics.Metrics()
	if m == nil {
		m = make(map[string]string)
	}
	for k, v := range c.config.Metrics {
		m[k] = v
	}
	if m["_app_version"] == "" {
		m["_app_version"] = c.config.AppVersion
	}
	return m
}

// ChangeID switches the device id. Without merge the current session is
// ended, timed events are cleared and a new session begins under newID.
// With merge the server is asked to move old data to newID.
func (c *Client) ChangeID(newID string, merge bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.forwarder != nil {
		c.forward(Message{Type: MessageChangeID, NewID: newID, Merge: merge})
		return
	}
	if !c.readyLocked() {
		return
	}
	c.changeIDLocked(newID, merge)
}

func (c *Client) changeIDLocked(newID string, merge bool) {
	if newID == "" {
		c.logger.Error("New device id is empty")
		return
	}
	if newID == c.deviceID {
		return
	}
	if !merge {
		c.endSessionLocked(0)
		c.timedEvents = make(map[string]int64)
	}

	// Events recorded so far belong to the old id.
	for c.batch.Len() > 0 {
		c.toQueueLocked(Request{Events: c.batch.Drain(c.config.MaxEvents)})
	}

	oldID := c.deviceID
	c.deviceID = newID
	c.store.save(keyDeviceID, newID)
	c.logger.Info("Changing device id", map[string]any{"old": oldID, "new": newID, "merge": merge})

	if merge {
		c.toQueueLocked(Request{OldDeviceID: oldID})
		return
	}
	c.beginSessionLocked(!c.session.autoExtend)
}

// UserDetails reports the user's profile.
func (c *Client) UserDetails(user UserDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyLocked() || !c.consent.Check(FeatureUsers) {
		return
	}
	c.toQueueLocked(Request{UserDetails: &user})
}

// ReportConversion reports an attribution campaign. campaignUser may be
// empty.
func (c *Client) ReportConversion(campaignID, campaignUser string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyLocked() || !c.consent.Check(FeatureAttribution) {
		return
	}
	if campaignID == "" {
		c.logger.Warn("No campaign data found")
		return
	}
	c.toQueueLocked(Request{CampaignID: campaignID, CampaignUser: campaignUser})
}

// GroupFeatures registers consent groups, e.g. {"activity": {"sessions", "events"}}.
func (c *Client) GroupFeatures(groups map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consent.GroupFeatures(groups)
}

// CheckConsent reports whether feature may be tracked.
func (c *Client) CheckConsent(feature string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consent.Check(feature)
}

// AddConsent opts into features or groups. A begin session or view call
// deferred for lack of consent is replayed once.
func (c *Client) AddConsent(features ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := c.consent.Add(features...)
	if len(changed) == 0 {
		return
	}
	c.scheduleConsentSyncLocked()

	for _, feature := range changed {
		switch feature {
		case FeatureSessions:
			if c.deferredSession != nil {
				noHeartbeat := *c.deferredSession
				c.deferredSession = nil
				c.beginSessionLocked(noHeartbeat)
			}
		case FeatureViews:
			if c.deferredView != nil {
				name := *c.deferredView
				c.deferredView = nil
				c.view.name = ""
				c.trackViewLocked(name)
			}
		}
	}
}

// RemoveConsent opts out of features or groups.
func (c *Client) RemoveConsent(features ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.consent.Remove(features...)) > 0 {
		c.scheduleConsentSyncLocked()
	}
}

// scheduleConsentSyncLocked (re)arms the debounce timer. Changes staged
// within the window go out as one consent request unless the next
// delivery picks them up first.
func (c *Client) scheduleConsentSyncLocked() {
	if c.consentTimer != nil {
		c.consentTimer.Stop()
	}
	c.consentGen++
	gen := c.consentGen
	c.consentTimer = c.clock.AfterFunc(c.config.ConsentSyncWindow, func() {
		c.syncConsent(gen)
	})
}

func (c *Client) syncConsent(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.consentGen {
		return
	}
	c.consentTimer = nil
	if !c.initialized {
		return
	}
	if staged := c.consent.TakeStaged(); staged != nil {
		c.toQueueLocked(Request{Consent: staged})
	}
}

// attachConsent moves staged consent changes onto the request about to be
// delivered.
func (c *Client) attachConsent(req *Request) {
	staged := c.consent.TakeStaged()
	if staged == nil {
		return
	}
	if c.consentTimer != nil {
		c.consentTimer.Stop()
		c.consentTimer = nil
	}
	c.consentGen++
	if req.Consent == nil {
		req.Consent = make(map[string]bool, len(staged))
	}
	for k, v := range staged {
		req.Consent[k] = v
	}
}
