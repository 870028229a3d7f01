package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Tap30/pulse-go"
	"github.com/Tap30/pulse-go/adapters"
)

func TestParseSegments(t *testing.T) {
	got, err := parseSegments([]string{"plan=pro", "seats=3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["plan"] != "pro" {
		t.Errorf("plan = %v", got["plan"])
	}
	if got["seats"] != float64(3) {
		t.Errorf("seats = %v (%T)", got["seats"], got["seats"])
	}

	if _, err := parseSegments([]string{"novalue"}); err == nil {
		t.Error("expected error for pair without '='")
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		ts   int64
		want string
	}{
		{0, "-"},
		{1700000000, "2023-11-14T22:13:20Z"},
		{1700000000123, "2023-11-14T22:13:20Z"},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.ts); got != tt.want {
			t.Errorf("formatTimestamp(%d) = %q, want %q", tt.ts, got, tt.want)
		}
	}
}

func TestDeviceIDCommand_EmptyStore(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"device-id", "--storage", "file", "--storage-path", t.TempDir()})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "no device id") {
		t.Fatalf("expected missing device id error, got %v", err)
	}
}

func TestQueueListCommand_EmptyStore(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"queue", "list", "--storage", "file", "--storage-path", t.TempDir()})

	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "0 requests queued, 0 events pending") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

type heldHTTP struct {
	release chan struct{}
}

func (h *heldHTTP) Send(*pulse.HTTPRequest) (*pulse.HTTPResponse, error) {
	<-h.release
	return &pulse.HTTPResponse{OK: true, Status: 200, Body: []byte(`{"result":"Success"}`)}, nil
}

func TestDisposeClient_WaitsForInFlightDelivery(t *testing.T) {
	httpAdapter := &heldHTTP{release: make(chan struct{})}
	client, err := pulse.NewClient(pulse.ClientConfig{
		AppKey:         "app",
		URL:            "http://collector.test",
		DeviceID:       "device-1",
		Interval:       time.Hour,
		HTTPAdapter:    httpAdapter,
		StorageAdapter: adapters.NewNoOpStorageAdapter(),
		LoggerAdapter:  adapters.NewNoOpLoggerAdapter(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.Request(pulse.Request{AppKey: "app", DeviceID: "device-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := client.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected flush to time out, got %v", err)
	}

	time.AfterFunc(20*time.Millisecond, func() { close(httpAdapter.release) })
	if err := disposeClient(ctx, client); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the command deadline to be reported, got %v", err)
	}
	if client.QueueLen() != 0 {
		t.Errorf("expected the in-flight delivery to settle before returning, got %d queued", client.QueueLen())
	}
}
