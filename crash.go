package pulse

import (
	"fmt"
	"maps"
	"runtime/debug"
	"strings"
)

// TrackErrors sets the segments attached to crash reports that carry none
// of their own. Pair it with a deferred RecordPanic in each goroutine that
// should report panics.
func (c *Client) TrackErrors(segments map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crashSegments = maps.Clone(segments)
}

// LogError reports a handled error as a non-fatal crash.
func (c *Client) LogError(err error, segments map[string]any) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyLocked() {
		return
	}
	c.recordErrorLocked(err.Error(), true, segments)
}

// RecordPanic reports a panic as a fatal crash and re-panics. It must be
// deferred directly:
//
//	defer client.RecordPanic()
func (c *Client) RecordPanic() {
	r := recover()
	if r == nil {
		return
	}

	c.mu.Lock()
	if c.initialized {
		c.recordErrorLocked(fmt.Sprintf("%v\n%s", r, debug.Stack()), false, nil)
	}
	c.mu.Unlock()

	panic(r)
}

// AddLog adds a breadcrumb sent with the next crash report.
func (c *Client) AddLog(record string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consent.Check(FeatureCrashes) {
		c.crashLogs = append(c.crashLogs, record)
	}
}

func (c *Client) recordErrorLocked(msg string, nonfatal bool, segments map[string]any) {
	if !c.consent.Check(FeatureCrashes) {
		return
	}
	if segments == nil {
		segments = c.crashSegments
	}

	m := c.metricsLocked()
	crash := Crash{
		OS:            m["_os"],
		OSVersion:     m["_os_version"],
		Error:         msg,
		AppVersion:    m["_app_version"],
		Run:           c.now() - c.startTime,
		NotOSSpecific: true,
		Nonfatal:      nonfatal,
		Custom:        segments,
	}
	if len(c.crashLogs) > 0 {
		crash.Logs = strings.Join(c.crashLogs, "\n")
	}
	c.crashLogs = nil

	c.toQueueLocked(Request{Crash: &crash})
}
