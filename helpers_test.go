package pulse

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tap30/pulse-go/adapters"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs the timers that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type mockHTTP struct {
	mu        sync.Mutex
	requests  []*HTTPRequest
	responses []*HTTPResponse
	err       error
}

func successResponse() *HTTPResponse {
	return &HTTPResponse{OK: true, Status: http.StatusOK, Body: []byte(`{"result":"Success"}`)}
}

func (m *mockHTTP) Send(req *HTTPRequest) (*HTTPResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		return resp, nil
	}
	return successResponse(), nil
}

func (m *mockHTTP) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// sent returns the decoded parameters of the i-th request.
func (m *mockHTTP) sent(t *testing.T, i int) url.Values {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.requests) {
		t.Fatalf("expected at least %d requests, got %d", i+1, len(m.requests))
	}
	return decodeHTTPRequest(t, m.requests[i])
}

func decodeHTTPRequest(t *testing.T, req *HTTPRequest) url.Values {
	t.Helper()
	raw := string(req.Body)
	if req.Method == http.MethodGet {
		_, query, _ := strings.Cut(req.URL, "?")
		raw = query
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("failed to parse request: %v", err)
	}
	return values
}

type memStorage struct {
	mu          sync.Mutex
	data        map[string][]byte
	quarantined []string
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStorage) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStorage) Quarantine(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantined = append(m.quarantined, key)
	delete(m.data, key)
	return nil
}

type testEnv struct {
	client  *Client
	http    *mockHTTP
	storage *memStorage
	clock   *fakeClock
}

// newTestClient builds an initialized client whose ticker never fires;
// tests drive the heartbeat with tick.
func newTestClient(t *testing.T, mutate func(*ClientConfig)) *testEnv {
	t.Helper()
	env := &testEnv{
		http:    &mockHTTP{},
		storage: newMemStorage(),
		clock:   newFakeClock(),
	}
	config := ClientConfig{
		AppKey:          "test-app",
		URL:             "http://collector.test/",
		DeviceID:        "device-1",
		Interval:        time.Hour,
		HTTPAdapter:     env.http,
		StorageAdapter:  env.storage,
		LoggerAdapter:   adapters.NewNoOpLoggerAdapter(),
		MetricsProvider: adapters.StaticMetricsProvider{"_os": "Linux", "_os_version": "6.1"},
		clock:           env.clock,
	}
	if mutate != nil {
		mutate(&config)
	}

	client, err := NewClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Init(); err != nil {
		t.Fatalf("failed to init client: %v", err)
	}
	t.Cleanup(func() { _ = client.Dispose(context.Background()) })
	env.client = client
	return env
}

// tick runs one heartbeat and waits for the delivery it started.
func (e *testEnv) tick(t *testing.T) {
	t.Helper()
	e.client.dispatcher.Tick()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.client.dispatcher.Wait(ctx); err != nil {
		t.Fatalf("delivery did not complete: %v", err)
	}
}

func newTestQueue(size int) (*RequestQueue, *memStorage) {
	storage := newMemStorage()
	store := newBlobStore(storage, adapters.NewNoOpLoggerAdapter())
	return newRequestQueue(queueOptions{
		size:       size,
		sdkName:    SDKName,
		sdkVersion: SDKVersion,
		stamper:    newMsStamper(newFakeClock()),
		store:      store,
		key:        keyQueue,
	}), storage
}
