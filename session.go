package pulse

// viewEventKey is the internal event key for view tracking.
const viewEventKey = "[CLY]_view"

type sessionState struct {
	started        bool
	lastBeat       int64
	autoExtend     bool
	storedDuration int64
}

type viewState struct {
	name           string
	start          int64
	storedDuration int64
}

// BeginSession starts a session and reports device metrics. With
// noHeartbeat the heartbeat does not extend the session; report duration
// with SessionDuration instead. Without sessions consent the call is
// deferred until consent is given.
func (c *Client) BeginSession(noHeartbeat bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyLocked() {
		return
	}
	c.beginSessionLocked(noHeartbeat)
}

func (c *Client) beginSessionLocked(noHeartbeat bool) {
	if !c.consent.Check(FeatureSessions) {
		c.deferredSession = &noHeartbeat
		return
	}
	if c.session.started {
		return
	}

	c.logger.Debug("Session started")
	c.session = sessionState{
		started:    true,
		lastBeat:   c.now(),
		autoExtend: !noHeartbeat,
	}
	c.toQueueLocked(Request{BeginSession: true, Metrics: c.metricsLocked()})
}

// SessionDuration reports sec seconds of the current session.
func (c *Client) SessionDuration(sec int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyLocked() {
		return
	}
	c.sessionDurationLocked(sec)
}

func (c *Client) sessionDurationLocked(sec int64) {
	if !c.consent.Check(FeatureSessions) || !c.session.started {
		return
	}
	c.logger.Debug("Session extended", map[string]any{"seconds": sec})
	c.toQueueLocked(Request{SessionDuration: &sec})
}

// EndSession ends the current session, reporting the time since the last
// beat.
func (c *Client) EndSession() {
	c.EndSessionWithDuration(0)
}

// EndSessionWithDuration ends the current session reporting sec seconds.
// sec <= 0 reports the time since the last beat.
func (c *Client) EndSessionWithDuration(sec int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyLocked() {
		return
	}
	c.endSessionLocked(sec)
}

func (c *Client) endSessionLocked(sec int64) {
	if !c.consent.Check(FeatureSessions) || !c.session.started {
		return
	}
	if sec <= 0 {
		sec = c.sessionElapsedLocked()
	}
	c.logger.Debug("Ending session")
	c.reportViewDurationLocked()
	c.session.started = false
	c.toQueueLocked(Request{EndSession: true, SessionDuration: &sec})
}

func (c *Client) sessionElapsedLocked() int64 {
	if !c.trackTime {
		return c.session.storedDuration
	}
	return c.now() - c.session.lastBeat
}

// SessionStarted reports whether a session is active.
func (c *Client) SessionStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.started
}

// AddEvent records a custom event.
func (c *Client) AddEvent(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyLocked() || !c.consent.Check(FeatureEvents) {
		return
	}
	c.addEventLocked(e)
}

// StartEvent starts a timer for key; EndEvent reports it with dur set.
func (c *Client) StartEvent(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == "" {
		c.logger.Error("Event must have key property")
		return
	}
	if _, ok := c.timedEvents[key]; ok {
		c.logger.Warn("Timed event with key %s already started", key)
		return
	}
	c.timedEvents[key] = c.now()
}

// EndEvent reports the timed event e.Key with dur set to the seconds since
// StartEvent. Without a matching StartEvent it does nothing.
func (c *Client) EndEvent(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Key == "" {
		c.logger.Error("Event must have key property")
		return
	}
	start, ok := c.timedEvents[e.Key]
	if !ok {
		c.logger.Warn("Timed event with key %s was not started", e.Key)
		return
	}
	delete(c.timedEvents, e.Key)

	dur := float64(c.now() - start)
	e.Dur = &dur
	if c.readyLocked() && c.consent.Check(FeatureEvents) {
		c.addEventLocked(e)
	}
}

// EndEventKey is EndEvent for an event with only a key.
func (c *Client) EndEventKey(key string) {
	c.EndEvent(Event{Key: key})
}

// StopTime pauses duration tracking for the session and the current view.
func (c *Client) StopTime() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.trackTime {
		return
	}
	now := c.now()
	c.trackTime = false
	c.session.storedDuration = now - c.session.lastBeat
	c.view.storedDuration = now - c.view.start
}

// StartTime resumes duration tracking paused by StopTime.
func (c *Client) StartTime() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.trackTime {
		return
	}
	now := c.now()
	c.trackTime = true
	c.session.lastBeat = now - c.session.storedDuration
	c.view.start = now - c.view.storedDuration
	c.view.storedDuration = 0
}

// TrackView reports a view of name and the duration of the previous view.
// Without views consent the call is deferred until consent is given.
func (c *Client) TrackView(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.readyLocked() {
		return
	}
	c.trackViewLocked(name)
}

func (c *Client) trackViewLocked(name string) {
	c.reportViewDurationLocked()
	if name == "" {
		return
	}

	c.view.name = name
	c.view.start = c.now()
	c.view.storedDuration = 0

	if !c.consent.Check(FeatureViews) {
		c.deferredView = &name
		return
	}
	c.addEventLocked(Event{
		Key: viewEventKey,
		Segmentation: map[string]any{
			"name":    name,
			"visit":   1,
			"segment": c.platformLocked(),
		},
	})
}

func (c *Client) reportViewDurationLocked() {
	if c.view.name == "" {
		return
	}
	if c.consent.Check(FeatureViews) {
		dur := float64(c.viewElapsedLocked())
		c.addEventLocked(Event{
			Key: viewEventKey,
			Dur: &dur,
			Segmentation: map[string]any{
				"name":    c.view.name,
				"segment": c.platformLocked(),
			},
		})
	}
	c.view.name = ""
}

func (c *Client) viewElapsedLocked() int64 {
	if !c.trackTime {
		return c.view.storedDuration
	}
	return c.now() - c.view.start
}

func (c *Client) platformLocked() string {
	return c.metricsLocked()["_os"]
}
