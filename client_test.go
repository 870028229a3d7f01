package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/Tap30/pulse-go/adapters"
)

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config ClientConfig
		want   error
	}{
		{"missing app key", ClientConfig{URL: "http://collector.test"}, ErrMissingAppKey},
		{"missing url", ClientConfig{AppKey: "app"}, ErrMissingURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.config); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(ClientConfig{
		AppKey:         "app",
		URL:            "http://collector.test",
		StorageAdapter: newMemStorage(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.config.Interval != DefaultInterval || c.config.QueueSize != DefaultQueueSize {
		t.Errorf("unexpected defaults %+v", c.config)
	}
	if c.config.MaxEvents != DefaultMaxEvents || c.config.AppVersion != DefaultAppVersion {
		t.Errorf("unexpected defaults %+v", c.config)
	}
	if c.dispatcher.config.Endpoint != "http://collector.test/i" {
		t.Errorf("unexpected endpoint %s", c.dispatcher.config.Endpoint)
	}
}

func TestClient_DeviceIDResolution(t *testing.T) {
	storage := newMemStorage()
	storage.data[keyDeviceID] = []byte(`{"cly_id":"stored-id"}`)

	env := newTestClient(t, func(c *ClientConfig) {
		c.DeviceID = ""
		c.StorageAdapter = storage
	})
	if got := env.client.DeviceID(); got != "stored-id" {
		t.Errorf("expected stored id, got %q", got)
	}

	fresh := newTestClient(t, func(c *ClientConfig) { c.DeviceID = "" })
	if len(fresh.client.DeviceID()) != 36 {
		t.Errorf("expected a generated uuid, got %q", fresh.client.DeviceID())
	}

	explicit := newTestClient(t, func(c *ClientConfig) { c.StorageAdapter = storage })
	if got := explicit.client.DeviceID(); got != "device-1" {
		t.Errorf("configured id should win, got %q", got)
	}
}

func TestClient_NotInitialized(t *testing.T) {
	c, err := NewClient(ClientConfig{
		AppKey:         "app",
		URL:            "http://collector.test",
		StorageAdapter: newMemStorage(),
		LoggerAdapter:  adapters.NewNoOpLoggerAdapter(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.AddEvent(Event{Key: "early"})
	c.BeginSession(false)
	if c.QueueLen() != 0 || c.PendingEvents() != 0 {
		t.Error("calls before Init should do nothing")
	}
}

func TestClient_EventsBatchedIntoOneRequest(t *testing.T) {
	env := newTestClient(t, nil)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		env.client.AddEvent(Event{Key: k})
	}

	env.tick(t)
	if env.http.calls() != 1 {
		t.Fatalf("expected one request, got %d", env.http.calls())
	}
	var events []Event
	if err := json.Unmarshal([]byte(env.http.sent(t, 0).Get("events")), &events); err != nil {
		t.Fatalf("invalid events param: %v", err)
	}
	if len(events) != 5 || events[0].Key != "a" || events[4].Key != "e" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestClient_EventsSplitByMaxEvents(t *testing.T) {
	env := newTestClient(t, func(c *ClientConfig) { c.MaxEvents = 2 })
	for _, k := range []string{"a", "b", "c"} {
		env.client.AddEvent(Event{Key: k})
	}

	env.tick(t)
	env.tick(t)
	if env.http.calls() != 2 {
		t.Fatalf("expected two requests, got %d", env.http.calls())
	}
	var second []Event
	_ = json.Unmarshal([]byte(env.http.sent(t, 1).Get("events")), &second)
	if len(second) != 1 || second[0].Key != "c" {
		t.Errorf("unexpected second batch %+v", second)
	}
}

func TestClient_EnvelopeStamped(t *testing.T) {
	env := newTestClient(t, func(c *ClientConfig) {
		c.CountryCode = "DE"
		c.City = "Berlin"
		c.IPAddress = "10.0.0.1"
	})
	env.client.UserDetails(UserDetails{Name: "Ada", Custom: map[string]any{"tier": "gold"}})
	env.tick(t)

	params := env.http.sent(t, 0)
	for k, v := range map[string]string{
		"app_key":      "test-app",
		"device_id":    "device-1",
		"sdk_name":     SDKName,
		"sdk_version":  SDKVersion,
		"country_code": "DE",
		"city":         "Berlin",
		"ip_address":   "10.0.0.1",
	} {
		if got := params.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if params.Get("user_details") != `{"name":"Ada","custom":{"tier":"gold"}}` {
		t.Errorf("unexpected user_details %s", params.Get("user_details"))
	}
}

func TestClient_RawRequest(t *testing.T) {
	env := newTestClient(t, nil)

	env.client.Request(Request{AppKey: "other", DeviceID: "d9", Extra: map[string]any{"foo": "bar"}})
	env.client.Request(Request{DeviceID: "missing-key"})
	env.tick(t)

	params := env.http.sent(t, 0)
	if params.Get("app_key") != "other" || params.Get("foo") != "bar" {
		t.Errorf("raw request should be sent as-is, got %v", params)
	}
	if env.client.QueueLen() != 0 {
		t.Error("request without app key should be rejected")
	}
}

func TestClient_ChangeIDWithoutMerge(t *testing.T) {
	env := newTestClient(t, nil)
	c := env.client
	c.BeginSession(false)
	c.StartEvent("checkout")
	c.AddEvent(Event{Key: "before"})
	env.clock.Advance(10 * time.Second)

	c.ChangeID("device-2", false)

	queued := c.QueuedRequests()
	var kinds, devices []string
	for _, r := range queued {
		kinds = append(kinds, r.Kind())
		devices = append(devices, r.DeviceID)
	}
	wantKinds := []string{adapters.KindSession, adapters.KindSession, adapters.KindEvents, adapters.KindSession}
	wantDevices := []string{"device-1", "device-1", "device-1", "device-2"}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("expected kinds %v, got %v", wantKinds, kinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] || devices[i] != wantDevices[i] {
			t.Fatalf("expected %v/%v, got %v/%v", wantKinds, wantDevices, kinds, devices)
		}
	}
	if !queued[1].EndSession || *queued[1].SessionDuration != 10 {
		t.Errorf("expected end_session with 10s, got %+v", queued[1])
	}
	if !queued[3].BeginSession {
		t.Error("expected a new session under the new id")
	}

	c.EndEventKey("checkout")
	if c.PendingEvents() != 0 {
		t.Error("timed events should be cleared on id change")
	}
	if c.DeviceID() != "device-2" || ReadSnapshot(env.storage, nil).DeviceID != "device-2" {
		t.Error("new id should be current and persisted")
	}
}

func TestClient_ChangeIDWithMerge(t *testing.T) {
	env := newTestClient(t, nil)
	c := env.client
	c.BeginSession(false)

	c.ChangeID("device-2", true)
	c.ChangeID("device-2", true)

	queued := c.QueuedRequests()
	if len(queued) != 2 {
		t.Fatalf("expected begin_session and merge, got %d requests", len(queued))
	}
	merge := queued[1]
	if merge.OldDeviceID != "device-1" || merge.DeviceID != "device-2" {
		t.Errorf("unexpected merge request %+v", merge)
	}
	if !c.SessionStarted() {
		t.Error("merge should keep the session running")
	}
}

func TestClient_DisposeQueuesStagedConsent(t *testing.T) {
	env := newTestClient(t, func(c *ClientConfig) { c.RequireConsent = true })
	env.client.AddConsent(FeatureEvents)

	if err := env.client.Dispose(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := ReadSnapshot(env.storage, nil)
	if len(snap.Requests) != 1 || !snap.Requests[0].Consent[FeatureEvents] {
		t.Errorf("expected staged consent to be persisted, got %+v", snap.Requests)
	}
	if env.client.dispatcher.Running() {
		t.Error("dispose should stop the heartbeat")
	}
}

func TestClient_RestoresPersistedQueue(t *testing.T) {
	storage := newMemStorage()
	first := newTestClient(t, func(c *ClientConfig) { c.StorageAdapter = storage })
	first.client.UserDetails(UserDetails{Name: "Ada"})
	first.client.AddEvent(Event{Key: "pending"})
	_ = first.client.Dispose(context.Background())

	second := newTestClient(t, func(c *ClientConfig) { c.StorageAdapter = storage })
	if second.client.QueueLen() != 1 || second.client.PendingEvents() != 1 {
		t.Errorf("expected restored queue and batch, got %d/%d", second.client.QueueLen(), second.client.PendingEvents())
	}
}

func TestClient_Flush(t *testing.T) {
	env := newTestClient(t, nil)
	env.client.AddEvent(Event{Key: "a"})
	env.client.UserDetails(UserDetails{Name: "Ada"})

	if err := env.client.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.http.calls() != 2 || env.client.QueueLen() != 0 || env.client.PendingEvents() != 0 {
		t.Errorf("expected everything delivered, got %d calls", env.http.calls())
	}
}

func TestClient_FlushReportsFailure(t *testing.T) {
	env := newTestClient(t, nil)
	env.http.err = errors.New("offline")
	env.client.UserDetails(UserDetails{Name: "Ada"})

	err := env.client.Flush(context.Background())
	if err == nil {
		t.Fatal("expected flush to fail")
	}
	if env.client.QueueLen() != 1 {
		t.Error("failed request should stay queued")
	}
}

func TestClient_ReportConversion(t *testing.T) {
	env := newTestClient(t, nil)
	env.client.ReportConversion("", "")
	env.client.ReportConversion("campaign", "user")

	queued := env.client.QueuedRequests()
	if len(queued) != 1 || queued[0].CampaignID != "campaign" || queued[0].CampaignUser != "user" {
		t.Errorf("unexpected requests %+v", queued)
	}
}

func TestClient_UserData(t *testing.T) {
	env := newTestClient(t, nil)
	env.client.UserData().
		Set("plan", "pro").
		Increment("logins").
		IncrementBy("logins", 2).
		SetOnce("first_seen", "2024-03-14").
		Push("tags", "a").
		Push("tags", "b").
		PushUnique("groups", "it").
		Save()

	queued := env.client.QueuedRequests()
	if len(queued) != 1 || queued[0].UserDetails == nil {
		t.Fatalf("expected one user details request, got %+v", queued)
	}
	custom := queued[0].UserDetails.Custom
	if custom["plan"] != "pro" {
		t.Errorf("unexpected plan %v", custom["plan"])
	}
	logins := custom["logins"].(map[string]any)
	if logins[modInc] != float64(2) {
		t.Errorf("expected latest $inc to win, got %v", logins[modInc])
	}
	if once := custom["first_seen"].(map[string]any); once[modSetOnce] != "2024-03-14" {
		t.Errorf("unexpected $setOnce %v", once)
	}
	if tags := custom["tags"].(map[string]any)[modPush].([]any); len(tags) != 2 {
		t.Errorf("expected pushed values to accumulate, got %v", tags)
	}

	env.client.UserData().Save()
	if env.client.QueueLen() != 1 {
		t.Error("saving without changes should send nothing")
	}
}

func TestClient_MetricsOverrides(t *testing.T) {
	env := newTestClient(t, func(c *ClientConfig) {
		c.AppVersion = "2.1"
		c.Metrics = map[string]string{"_device": "server"}
	})
	env.client.BeginSession(true)

	m := env.client.QueuedRequests()[0].Metrics
	if m["_os"] != "Linux" || m["_device"] != "server" || m["_app_version"] != "2.1" {
		t.Errorf("unexpected metrics %v", m)
	}
}

func TestClient_DeliversOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var got []url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/i" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		mu.Lock()
		got = append(got, r.Form)
		mu.Unlock()
		w.Write([]byte(`{"result":"Success"}`))
	}))
	defer server.Close()

	c, err := NewClient(ClientConfig{
		AppKey:         "app",
		URL:            server.URL,
		DeviceID:       "device-http",
		Interval:       time.Hour,
		StorageAdapter: newMemStorage(),
		LoggerAdapter:  adapters.NewNoOpLoggerAdapter(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Dispose(context.Background())

	c.BeginSession(true)
	c.AddEvent(Event{Key: "purchase", Segmentation: map[string]any{"item": "book"}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}
	if got[0].Get("begin_session") != "1" || got[0].Get("device_id") != "device-http" {
		t.Errorf("unexpected first request %v", got[0])
	}
	if got[1].Get("events") == "" {
		t.Errorf("expected events in the second request, got %v", got[1])
	}
}

func TestClient_RequestBeforeInitKeepsPersistedQueue(t *testing.T) {
	first := newTestClient(t, nil)
	for i := 0; i < 5; i++ {
		first.client.Request(Request{AppKey: "test-app", DeviceID: "device-1", Extra: map[string]any{"n": i}})
	}
	if err := first.client.Dispose(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := NewClient(ClientConfig{
		AppKey:         "test-app",
		URL:            "http://collector.test",
		DeviceID:       "device-1",
		Interval:       time.Hour,
		HTTPAdapter:    &mockHTTP{},
		StorageAdapter: first.storage,
		LoggerAdapter:  adapters.NewNoOpLoggerAdapter(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Request(Request{AppKey: "test-app", DeviceID: "device-1"})
	if got := len(ReadSnapshot(first.storage, nil).Requests); got != 5 {
		t.Fatalf("persisted queue was rewritten before Init: %d requests", got)
	}

	if err := c.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Dispose(context.Background())
	if c.QueueLen() != 5 {
		t.Fatalf("expected 5 restored requests, got %d", c.QueueLen())
	}
	c.Request(Request{AppKey: "test-app", DeviceID: "device-1"})
	if c.QueueLen() != 6 {
		t.Errorf("expected 6 requests after Init, got %d", c.QueueLen())
	}
}

func TestClient_DeliveryCompletesAfterStorageClosed(t *testing.T) {
	storage, err := adapters.NewPebbleStorageAdapter(adapters.PebbleOptions{Dir: t.TempDir(), NoSync: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	httpAdapter := &blockingHTTP{release: make(chan struct{})}
	env := newTestClient(t, func(c *ClientConfig) {
		c.HTTPAdapter = httpAdapter
		c.StorageAdapter = storage
	})
	env.client.Request(Request{AppKey: "test-app", DeviceID: "device-1"})
	env.client.dispatcher.Tick()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := env.client.Dispose(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while delivery is in flight, got %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	close(httpAdapter.release)
	if err := env.client.dispatcher.Wait(context.Background()); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if env.client.QueueLen() != 0 {
		t.Errorf("expected the delivered request to be confirmed, got %d queued", env.client.QueueLen())
	}
}
