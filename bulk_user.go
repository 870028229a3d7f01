package pulse

import (
	"sync"
)

// Event keys reported by BulkUser.
const (
	starRatingEventKey = "[CLY]_star_rating"

	// maxBeatSeconds caps each session_duration request emitted by
	// BulkUser.BeginSession.
	maxBeatSeconds = 60
)

// BulkUserConfig identifies the device a BulkUser reports for.
type BulkUserConfig struct {
	DeviceID    string
	CountryCode string
	City        string
	IPAddress   string

	RequireConsent bool
}

// ViewReport describes a view for BulkUser.ReportView.
type ViewReport struct {
	Name      string
	Platform  string
	Timestamp int64
	Duration  float64
	Landing   bool
	Exit      bool
	Bounce    bool
}

type bulkSessionCall struct {
	metrics   map[string]string
	seconds   int64
	timestamp int64
}

// BulkUser reports historical data for one device through a Bulk importer.
// It keeps its own consent state.
type BulkUser struct {
	mu     sync.Mutex
	bulk   *Bulk
	config BulkUserConfig

	consent      *ConsentGate
	sessionStart int64
	custom       *customProperties

	deferredSession *bulkSessionCall
	deferredView    *ViewReport

	consentTimer stopper
	consentGen   int
}

func newBulkUser(b *Bulk, config BulkUserConfig) *BulkUser {
	return &BulkUser{
		bulk:    b,
		config:  config,
		consent: newConsentGate(config.RequireConsent, b.logger),
		custom:  newCustomProperties(),
	}
}

// DeviceID returns the device this user reports for.
func (u *BulkUser) DeviceID() string {
	return u.config.DeviceID
}

func (u *BulkUser) GroupFeatures(groups map[string][]string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.consent.GroupFeatures(groups)
}

func (u *BulkUser) CheckConsent(feature string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.consent.Check(feature)
}

// AddConsent opts into features and replays a deferred BeginSession or
// ReportView once.
func (u *BulkUser) AddConsent(features ...string) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()

	changed := u.consent.Add(features...)
	if len(changed) == 0 {
		return u
	}
	u.scheduleConsentSyncLocked()

	for _, feature := range changed {
		switch feature {
		case FeatureSessions:
			if call := u.deferredSession; call != nil {
				u.deferredSession = nil
				u.beginSessionLocked(call.metrics, call.seconds, call.timestamp)
			}
		case FeatureViews:
			if view := u.deferredView; view != nil {
				u.deferredView = nil
				u.reportViewLocked(*view)
			}
		}
	}
	return u
}

func (u *BulkUser) RemoveConsent(features ...string) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.consent.Remove(features...)) > 0 {
		u.scheduleConsentSyncLocked()
	}
	return u
}

func (u *BulkUser) scheduleConsentSyncLocked() {
	if u.consentTimer != nil {
		u.consentTimer.Stop()
	}
	u.consentGen++
	gen := u.consentGen
	u.consentTimer = u.bulk.clock.AfterFunc(DefaultConsentSyncWindow, func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		if gen != u.consentGen {
			return
		}
		u.consentTimer = nil
		if staged := u.consent.TakeStaged(); staged != nil {
			req := u.prepare(Request{Consent: staged})
			u.bulk.AddBulkRequest([]Request{req})
		}
	})
}

// prepare fills the device id and, with location consent, the ip address.
func (u *BulkUser) prepare(req Request) Request {
	if req.DeviceID == "" {
		req.DeviceID = u.config.DeviceID
	}
	if u.config.IPAddress != "" && u.consent.Check(FeatureLocation) {
		req.IPAddress = u.config.IPAddress
	}
	return req
}

// BeginSession reports a session that started at timestamp and lasted
// seconds. The duration is split into session_duration requests of at most
// 60 seconds, each stamped 60 seconds after the previous one.
func (u *BulkUser) BeginSession(metrics map[string]string, seconds, timestamp int64) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.beginSessionLocked(metrics, seconds, timestamp)
	return u
}

func (u *BulkUser) beginSessionLocked(metrics map[string]string, seconds, timestamp int64) {
	if !u.consent.Check(FeatureSessions) {
		u.deferredSession = &bulkSessionCall{metrics: metrics, seconds: seconds, timestamp: timestamp}
		return
	}

	begin := u.prepare(Request{BeginSession: true, Metrics: metrics})
	if u.consent.Check(FeatureLocation) {
		begin.CountryCode = u.config.CountryCode
		begin.City = u.config.City
	} else {
		empty := ""
		begin.Location = &empty
	}
	if timestamp != 0 {
		u.sessionStart = timestamp
		begin.Timestamp = timestamp
	}
	requests := []Request{begin}

	for i := int64(0); seconds > 0; i++ {
		beat := min(seconds, maxBeatSeconds)
		req := u.prepare(Request{SessionDuration: &beat})
		if timestamp != 0 {
			req.Timestamp = timestamp + (i+1)*maxBeatSeconds
		}
		requests = append(requests, req)
		seconds -= maxBeatSeconds
	}
	u.bulk.AddBulkRequest(requests)
}

// AddEvent queues e for this device.
func (u *BulkUser) AddEvent(e Event) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.consent.Check(FeatureEvents) {
		u.bulk.AddEvent(u.config.DeviceID, e)
	}
	return u
}

func (u *BulkUser) UserDetails(user UserDetails) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.consent.Check(FeatureUsers) {
		u.bulk.AddRequest(u.prepare(Request{UserDetails: &user}))
	}
	return u
}

// ReportConversion reports an attribution campaign. A zero timestamp falls
// back to the start of the last reported session.
func (u *BulkUser) ReportConversion(campaignID, campaignUser string, timestamp int64) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.consent.Check(FeatureAttribution) {
		return u
	}
	req := u.prepare(Request{CampaignID: campaignID, CampaignUser: campaignUser})
	if timestamp != 0 {
		req.Timestamp = timestamp
	} else if u.sessionStart != 0 {
		req.Timestamp = u.sessionStart
	}
	u.bulk.AddRequest(req)
	return u
}

// ReportView reports a single view. Without views consent the call is
// deferred until consent is given.
func (u *BulkUser) ReportView(view ViewReport) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reportViewLocked(view)
	return u
}

func (u *BulkUser) reportViewLocked(view ViewReport) {
	if !u.consent.Check(FeatureViews) {
		u.deferredView = &view
		return
	}

	segmentation := map[string]any{
		"name":    view.Name,
		"visit":   1,
		"segment": view.Platform,
	}
	if view.Landing {
		segmentation["start"] = 1
	}
	if view.Exit {
		segmentation["exit"] = 1
	}
	if view.Bounce {
		segmentation["bounce"] = 1
	}
	dur := view.Duration
	event := Event{Key: viewEventKey, Count: 1, Dur: &dur, Segmentation: segmentation}

	req := u.prepare(Request{Events: []Event{stampEvent(event, u.bulk.stamper)}})
	req.Timestamp = view.Timestamp
	u.bulk.AddRequest(req)
}

// ReportRating reports a star rating.
func (u *BulkUser) ReportRating(rating int, platform, appVersion string, timestamp int64) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.consent.Check(FeatureStarRating) {
		return u
	}
	event := Event{
		Key:   starRatingEventKey,
		Count: 1,
		Segmentation: map[string]any{
			"rating":      rating,
			"app_version": appVersion,
			"platform":    platform,
		},
	}
	req := u.prepare(Request{Events: []Event{stampEvent(event, u.bulk.stamper)}})
	req.Timestamp = timestamp
	u.bulk.AddRequest(req)
	return u
}

// ReportCrash reports a crash that happened at timestamp.
func (u *BulkUser) ReportCrash(crash Crash, timestamp int64) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.consent.Check(FeatureCrashes) {
		return u
	}
	req := u.prepare(Request{Crash: &crash})
	req.Timestamp = timestamp
	u.bulk.AddRequest(req)
	return u
}

func (u *BulkUser) customModify(key string, value any, mod string) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.custom.modify(key, value, mod)
	return u
}

func (u *BulkUser) CustomSet(key string, value any) *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.custom.set(key, value)
	return u
}

// CustomUnset clears key on the server.
func (u *BulkUser) CustomUnset(key string) *BulkUser {
	return u.CustomSet(key, "")
}

func (u *BulkUser) CustomSetOnce(key string, value any) *BulkUser {
	return u.customModify(key, value, modSetOnce)
}

func (u *BulkUser) CustomIncrement(key string) *BulkUser {
	return u.customModify(key, 1, modInc)
}

func (u *BulkUser) CustomIncrementBy(key string, value float64) *BulkUser {
	return u.customModify(key, value, modInc)
}

func (u *BulkUser) CustomMultiply(key string, value float64) *BulkUser {
	return u.customModify(key, value, modMul)
}

func (u *BulkUser) CustomMax(key string, value float64) *BulkUser {
	return u.customModify(key, value, modMax)
}

func (u *BulkUser) CustomMin(key string, value float64) *BulkUser {
	return u.customModify(key, value, modMin)
}

func (u *BulkUser) CustomPush(key string, value any) *BulkUser {
	return u.customModify(key, value, modPush)
}

func (u *BulkUser) CustomPushUnique(key string, value any) *BulkUser {
	return u.customModify(key, value, modAddToSet)
}

func (u *BulkUser) CustomPull(key string, value any) *BulkUser {
	return u.customModify(key, value, modPull)
}

// CustomSave sends the accumulated custom property changes.
func (u *BulkUser) CustomSave() *BulkUser {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.custom.isEmpty() {
		return u
	}
	custom := u.custom.take()
	if u.consent.Check(FeatureUsers) {
		u.bulk.AddRequest(u.prepare(Request{UserDetails: &UserDetails{Custom: custom}}))
	}
	return u
}
