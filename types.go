package pulse

import (
	"fmt"
	"time"

	"github.com/Tap30/pulse-go/adapters"
)

// Re-export adapter types for convenience
type (
	Event           = adapters.Event
	Request         = adapters.Request
	UserDetails     = adapters.UserDetails
	Crash           = adapters.Crash
	HTTPAdapter     = adapters.HTTPAdapter
	HTTPRequest     = adapters.HTTPRequest
	HTTPResponse    = adapters.HTTPResponse
	StorageAdapter  = adapters.StorageAdapter
	LoggerAdapter   = adapters.LoggerAdapter
	LogLevel        = adapters.LogLevel
	MetricsProvider = adapters.MetricsProvider
)

const (
	SDKName        = "pulse_go"
	SDKVersion     = "1.0.0"
	BulkSDKName    = "pulse_go_bulk"
	BulkSDKVersion = "1.0.0"

	apiPath     = "/i"
	bulkAPIPath = "/i/bulk"

	// postThreshold is the encoded length at which requests switch from GET
	// query strings to POST bodies.
	postThreshold = 2000

	// successMarker is the value of "result" in a body that confirms delivery.
	successMarker = "Success"
)

// Blob keys used by the client and the bulk importer.
const (
	keyQueue         = "cly_queue"
	keyEvents        = "cly_event"
	keyDeviceID      = "cly_id"
	keyBulkRequests  = "cly_req_queue"
	keyBulkEvents    = "cly_bulk_event"
	keyBulkEnvelopes = "cly_bulk_queue"
)

// Default values applied by NewClient.
const (
	DefaultInterval          = 500 * time.Millisecond
	DefaultQueueSize         = 1000
	DefaultFailTimeout       = 60 * time.Second
	DefaultSessionUpdate     = 60 * time.Second
	DefaultMaxEvents         = 10
	DefaultConsentSyncWindow = time.Second
	DefaultAppVersion        = "0.0"
	DefaultStoragePath       = "pulse_data"
)

// HTTPError reports a delivery the server did not confirm.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("delivery rejected: status %d", e.Status)
}

// ClientConfig configures a Client. Zero values select the defaults above.
type ClientConfig struct {
	AppKey     string
	URL        string
	DeviceID   string
	AppVersion string

	CountryCode string
	City        string
	IPAddress   string

	Interval          time.Duration
	QueueSize         int
	FailTimeout       time.Duration
	SessionUpdate     time.Duration
	MaxEvents         int
	ConsentSyncWindow time.Duration

	ForcePost      bool
	RequireConsent bool
	Debug          bool

	// Metrics overrides detected device metrics (_os, _os_version, ...).
	Metrics map[string]string
	// Headers are added to every outbound request.
	Headers map[string]string
	// StoragePath is the file store directory used when StorageAdapter is nil.
	StoragePath string

	HTTPAdapter     HTTPAdapter
	StorageAdapter  StorageAdapter
	LoggerAdapter   LoggerAdapter
	MetricsProvider MetricsProvider

	// Forwarder makes the client a secondary: queue, event and identity
	// mutations are forwarded to the primary instead of applied locally.
	Forwarder Forwarder

	clock clock
}
