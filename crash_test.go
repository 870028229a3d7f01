package pulse

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogError(t *testing.T) {
	env := newTestClient(t, func(c *ClientConfig) { c.AppVersion = "3.0" })
	c := env.client
	c.TrackErrors(map[string]any{"service": "billing"})
	c.AddLog("opened cart")
	c.AddLog("clicked pay")
	env.clock.Advance(42 * time.Second)

	c.LogError(errors.New("card declined"), nil)
	c.LogError(nil, nil)

	queued := c.QueuedRequests()
	if len(queued) != 1 || queued[0].Crash == nil {
		t.Fatalf("expected one crash request, got %+v", queued)
	}
	crash := queued[0].Crash
	if crash.Error != "card declined" || !crash.Nonfatal {
		t.Errorf("unexpected crash %+v", crash)
	}
	if crash.OS != "Linux" || crash.OSVersion != "6.1" || crash.AppVersion != "3.0" {
		t.Errorf("unexpected platform fields %+v", crash)
	}
	if crash.Run != 42 {
		t.Errorf("expected run time 42, got %d", crash.Run)
	}
	if crash.Logs != "opened cart\nclicked pay" {
		t.Errorf("unexpected logs %q", crash.Logs)
	}
	if crash.Custom["service"] != "billing" {
		t.Errorf("expected tracked segments, got %v", crash.Custom)
	}

	c.LogError(errors.New("again"), map[string]any{"retry": true})
	second := c.QueuedRequests()[1].Crash
	if second.Logs != "" {
		t.Error("logs should be cleared after a report")
	}
	if second.Custom["retry"] != true {
		t.Errorf("explicit segments should win, got %v", second.Custom)
	}
}

func TestRecordPanic(t *testing.T) {
	env := newTestClient(t, nil)

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("expected the panic to propagate, got %v", r)
			}
		}()
		defer env.client.RecordPanic()
		panic("boom")
	}()

	queued := env.client.QueuedRequests()
	if len(queued) != 1 || queued[0].Crash == nil {
		t.Fatalf("expected a crash request, got %+v", queued)
	}
	crash := queued[0].Crash
	if crash.Nonfatal || !strings.HasPrefix(crash.Error, "boom\n") {
		t.Errorf("unexpected crash %+v", crash)
	}
	if !strings.Contains(crash.Error, "goroutine") {
		t.Error("expected a stack trace in the report")
	}
}

func TestCrashRequiresConsent(t *testing.T) {
	env := newTestClient(t, func(c *ClientConfig) { c.RequireConsent = true })
	env.client.AddLog("ignored")
	env.client.LogError(errors.New("nope"), nil)
	if env.client.QueueLen() != 0 {
		t.Fatal("crashes need consent")
	}

	env.client.AddConsent(FeatureCrashes)
	env.client.LogError(errors.New("yes"), nil)
	queued := env.client.QueuedRequests()
	if len(queued) != 1 || queued[0].Crash.Logs != "" {
		t.Errorf("expected one crash without earlier logs, got %+v", queued)
	}
}
