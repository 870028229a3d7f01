package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	pulse "github.com/Tap30/pulse-go"
	"github.com/Tap30/pulse-go/adapters"
)

const collectorURL = "http://localhost:3000"

var client *pulse.Client
var scanner *bufio.Scanner
var eventCounter int
var viewCounter int

func newClient() (*pulse.Client, error) {
	return pulse.NewClient(pulse.ClientConfig{
		AppKey:         "test-app-key",
		URL:            collectorURL,
		AppVersion:     "1.0.0",
		Interval:       2 * time.Second,
		FailTimeout:    10 * time.Second,
		MaxEvents:      5,
		RequireConsent: true,
		HTTPAdapter:    adapters.NewNetHTTPAdapter(&http.Client{Timeout: 10 * time.Second}),
		StorageAdapter: NewJSONFileStorage("pulse_playground.json"),
		LoggerAdapter:  adapters.NewPrintLoggerAdapter(adapters.LogLevelDebug),
	})
}

func main() {
	scanner = bufio.NewScanner(os.Stdin)

	var err error
	client, err = newClient()
	if err != nil {
		fmt.Printf("❌ Failed to create client: %v\n", err)
		return
	}
	if err := client.Init(); err != nil {
		fmt.Printf("❌ Failed to initialize client: %v\n", err)
		return
	}

	fmt.Println("🎯 Pulse Interactive Client")
	fmt.Println("Connected to:", collectorURL)
	fmt.Println("Device ID:", client.DeviceID())
	fmt.Println()

	for {
		showMenu()
		choice := readInput("Choose an option: ")

		switch choice {
		case "1":
			giveConsent()
		case "2":
			revokeConsent()
		case "3":
			client.BeginSession(false)
			fmt.Println("✅ Session begun (or deferred until sessions consent)")
		case "4":
			client.EndSession()
			fmt.Println("✅ Session ended")
		case "5":
			trackEvent()
		case "6":
			trackTimedEvent()
		case "7":
			trackView()
		case "8":
			trackEventWithError()
		case "9":
			changeID()
		case "10":
			reportError()
		case "11":
			viewQueue()
		case "12":
			flush()
		case "13":
			fmt.Println("👋 Goodbye!")
			client.Dispose(context.Background())
			return
		default:
			fmt.Println("❌ Invalid option. Please try again.")
		}
		fmt.Println()
	}
}

func showMenu() {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("🔐 Consent")
	fmt.Println("1. Give Consent (all features)")
	fmt.Println("2. Revoke Consent (all features)")
	fmt.Println()
	fmt.Println("⏱️  Sessions")
	fmt.Println("3. Begin Session")
	fmt.Println("4. End Session")
	fmt.Println()
	fmt.Println("📊 Tracking")
	fmt.Println("5. Track Event")
	fmt.Println("6. Track Timed Event (2s)")
	fmt.Println("7. Track View")
	fmt.Println("8. Test Retry Logic (Error Event)")
	fmt.Println()
	fmt.Println("🪪  Identity & Errors")
	fmt.Println("9. Change Device ID")
	fmt.Println("10. Report Handled Error")
	fmt.Println()
	fmt.Println("📦 Queue")
	fmt.Println("11. View Queue")
	fmt.Println("12. Manual Flush")
	fmt.Println("13. Exit")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func readInput(prompt string) string {
	fmt.Print(prompt)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

func giveConsent() {
	client.AddConsent(pulse.Features...)
	fmt.Println("✅ Consent given; replayed deferred session and view calls")
}

func revokeConsent() {
	client.RemoveConsent(pulse.Features...)
	fmt.Println("✅ Consent revoked")
}

func trackEvent() {
	eventCounter++
	key := fmt.Sprintf("event_%d", eventCounter)
	sum := float64(eventCounter) * 1.5
	client.AddEvent(pulse.Event{
		Key: key,
		Sum: &sum,
		Segmentation: map[string]any{
			"action": fmt.Sprintf("action_%d", eventCounter),
			"type":   "sample",
		},
	})
	fmt.Printf("✅ Event '%s' recorded\n", key)
}

func trackTimedEvent() {
	client.StartEvent("timed_event")
	fmt.Println("⏳ Waiting 2s...")
	time.Sleep(2 * time.Second)
	client.EndEventKey("timed_event")
	fmt.Println("✅ Timed event recorded")
}

func trackView() {
	viewCounter++
	name := fmt.Sprintf("screen_%d", viewCounter)
	client.TrackView(name)
	fmt.Printf("✅ View '%s' tracked\n", name)
}

func trackEventWithError() {
	eventCounter++
	key := fmt.Sprintf("error_event_%d", eventCounter)
	client.AddEvent(pulse.Event{
		Key:          key,
		Segmentation: map[string]any{"trigger_error": true},
	})
	fmt.Printf("✅ Error event '%s' recorded - the collector will reject its batch\n", key)
}

func changeID() {
	id := readInput("New device ID: ")
	merge := strings.EqualFold(readInput("Merge old data? (y/N): "), "y")
	client.ChangeID(id, merge)
	fmt.Println("✅ Device ID is now", client.DeviceID())
}

func reportError() {
	client.AddLog("playground: user chose to report an error")
	client.LogError(fmt.Errorf("simulated failure #%d", eventCounter), map[string]any{"source": "playground"})
	fmt.Println("✅ Error reported")
}

func viewQueue() {
	requests := client.QueuedRequests()
	fmt.Printf("📦 %d queued requests, %d pending events\n", len(requests), client.PendingEvents())
	for i, req := range requests {
		fmt.Printf("  %d. %s for %s\n", i+1, req.Kind(), req.DeviceID)
	}
}

func flush() {
	fmt.Println("🔄 Flushing...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		fmt.Printf("❌ Flush stopped: %v\n", err)
		return
	}
	fmt.Println("✅ Queue flushed")
}
