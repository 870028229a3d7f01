package adapters

// HTTPRequest is a fully encoded outbound call.
type HTTPRequest struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
}

// HTTPResponse represents the response from an HTTP request.
type HTTPResponse struct {
	OK     bool
	Status int
	Body   []byte
}

// HTTPAdapter is an interface for HTTP communication.
// Implement this interface to use custom HTTP clients.
type HTTPAdapter interface {
	// Send performs the request and returns the status and the raw body.
	//
	// A returned error means no response was received. Non-2xx statuses
	// are reported through HTTPResponse, not as errors.
	Send(req *HTTPRequest) (*HTTPResponse, error)
}
