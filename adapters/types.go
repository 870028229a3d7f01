package adapters

// Request kinds derived from the populated payload fields.
const (
	KindRaw         = "raw"
	KindSession     = "session"
	KindEvents      = "events"
	KindUserDetails = "user_details"
	KindCrash       = "crash"
	KindConsent     = "consent"
	KindMerge       = "merge"
	KindAttribution = "attribution"
	KindBulk        = "bulk"
)

// Event represents a tracked event.
type Event struct {
	Key          string         `json:"key"`
	Count        int            `json:"count"`
	Sum          *float64       `json:"sum,omitempty"`
	Dur          *float64       `json:"dur,omitempty"`
	Segmentation map[string]any `json:"segmentation,omitempty"`
	Timestamp    int64          `json:"timestamp"`
	Hour         int            `json:"hour"`
	Dow          int            `json:"dow"`
}

// UserDetails describes the user behind a device.
type UserDetails struct {
	Name         string         `json:"name,omitempty"`
	Username     string         `json:"username,omitempty"`
	Email        string         `json:"email,omitempty"`
	Organization string         `json:"organization,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Picture      string         `json:"picture,omitempty"`
	Gender       string         `json:"gender,omitempty"`
	BYear        int            `json:"byear,omitempty"`
	Custom       map[string]any `json:"custom,omitempty"`
}

// Crash is a crash or handled error report.
type Crash struct {
	OS            string         `json:"_os,omitempty"`
	OSVersion     string         `json:"_os_version,omitempty"`
	Error         string         `json:"_error"`
	AppVersion    string         `json:"_app_version,omitempty"`
	Run           int64          `json:"_run"`
	NotOSSpecific bool           `json:"_not_os_specific"`
	Logs          string         `json:"_logs,omitempty"`
	Nonfatal      bool           `json:"_nonfatal"`
	Custom        map[string]any `json:"_custom,omitempty"`
}

// Request is one outbound call to the collection endpoint. The envelope
// fields are stamped when the request is enqueued; each request kind sets
// its own payload fields.
type Request struct {
	AppKey     string `json:"app_key,omitempty"`
	DeviceID   string `json:"device_id,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Hour       int    `json:"hour"`
	Dow        int    `json:"dow"`
	SDKName    string `json:"sdk_name,omitempty"`
	SDKVersion string `json:"sdk_version,omitempty"`

	CountryCode string  `json:"country_code,omitempty"`
	City        string  `json:"city,omitempty"`
	IPAddress   string  `json:"ip_address,omitempty"`
	Location    *string `json:"location,omitempty"`

	BeginSession    bool              `json:"begin_session,omitempty"`
	EndSession      bool              `json:"end_session,omitempty"`
	SessionDuration *int64            `json:"session_duration,omitempty"`
	Metrics         map[string]string `json:"metrics,omitempty"`
	Events          []Event           `json:"events,omitempty"`
	UserDetails     *UserDetails      `json:"user_details,omitempty"`
	Crash           *Crash            `json:"crash,omitempty"`
	Consent         map[string]bool   `json:"consent,omitempty"`
	OldDeviceID     string            `json:"old_device_id,omitempty"`
	CampaignID      string            `json:"campaign_id,omitempty"`
	CampaignUser    string            `json:"campaign_user,omitempty"`
	Requests        []Request         `json:"requests,omitempty"`

	// Extra holds additional scalar parameters of raw requests.
	Extra map[string]any `json:"extra,omitempty"`
}

// Kind reports which request kind r is. Session and event payloads take
// precedence over the consent field, which may ride along on any request.
func (r *Request) Kind() string {
	switch {
	case len(r.Requests) > 0:
		return KindBulk
	case r.BeginSession || r.EndSession || r.SessionDuration != nil:
		return KindSession
	case len(r.Events) > 0:
		return KindEvents
	case r.UserDetails != nil:
		return KindUserDetails
	case r.Crash != nil:
		return KindCrash
	case r.OldDeviceID != "":
		return KindMerge
	case r.CampaignID != "":
		return KindAttribution
	case len(r.Consent) > 0:
		return KindConsent
	default:
		return KindRaw
	}
}

// Duration returns a pointer to sec, for SessionDuration.
func Duration(sec int64) *int64 {
	return &sec
}
