package pulse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// requestParams flattens req into its wire parameters. Nested values stay
// native; EncodeRequest stringifies them. Bulk envelopes carry only app_key
// and requests, whose nested values are stringified the same way.
func requestParams(req *Request) map[string]any {
	p := make(map[string]any, 16)

	if len(req.Requests) > 0 {
		p["app_key"] = req.AppKey
		inner := make([]map[string]any, len(req.Requests))
		for i := range req.Requests {
			inner[i] = stringifyNested(requestParams(&req.Requests[i]))
		}
		p["requests"] = inner
		return p
	}

	for k, v := range req.Extra {
		p[k] = v
	}

	setString(p, "app_key", req.AppKey)
	setString(p, "device_id", req.DeviceID)
	if req.Timestamp != 0 {
		p["timestamp"] = req.Timestamp
		p["hour"] = req.Hour
		p["dow"] = req.Dow
	}
	setString(p, "sdk_name", req.SDKName)
	setString(p, "sdk_version", req.SDKVersion)
	setString(p, "country_code", req.CountryCode)
	setString(p, "city", req.City)
	setString(p, "ip_address", req.IPAddress)
	if req.Location != nil {
		p["location"] = *req.Location
	}

	if req.BeginSession {
		p["begin_session"] = 1
	}
	if req.EndSession {
		p["end_session"] = 1
	}
	if req.SessionDuration != nil {
		p["session_duration"] = *req.SessionDuration
	}
	if len(req.Metrics) > 0 {
		p["metrics"] = req.Metrics
	}
	if len(req.Events) > 0 {
		p["events"] = req.Events
	}
	if req.UserDetails != nil {
		p["user_details"] = req.UserDetails
	}
	if req.Crash != nil {
		p["crash"] = req.Crash
	}
	if len(req.Consent) > 0 {
		p["consent"] = req.Consent
	}
	setString(p, "old_device_id", req.OldDeviceID)
	setString(p, "campaign_id", req.CampaignID)
	setString(p, "campaign_user", req.CampaignUser)
	return p
}

// stringifyNested JSON-encodes the object and array values of p so each
// request inside an envelope has the same shape as a standalone one.
func stringifyNested(p map[string]any) map[string]any {
	for k, v := range p {
		switch v.(type) {
		case string, int, int64, float64, bool, nil:
			continue
		}
		if data, err := json.Marshal(v); err == nil {
			p[k] = string(data)
		}
	}
	return p
}

func setString(p map[string]any, key, value string) {
	if value != "" {
		p[key] = value
	}
}

// EncodeRequest renders req as flat query parameters. Objects and arrays
// are JSON-stringified.
func EncodeRequest(req *Request) (url.Values, error) {
	values := url.Values{}
	for k, v := range requestParams(req) {
		s, err := paramString(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		values.Set(k, s)
	}
	return values, nil
}

func paramString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case nil:
		return "", nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// buildHTTPRequest chooses GET for short payloads and POST with a form body
// otherwise, or always when forcePost is set.
func buildHTTPRequest(endpoint string, req *Request, forcePost bool, headers map[string]string) (*HTTPRequest, error) {
	values, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	data := values.Encode()

	if forcePost || len(data) >= postThreshold {
		return &HTTPRequest{
			Method:  http.MethodPost,
			URL:     endpoint,
			Body:    []byte(data),
			Headers: headers,
		}, nil
	}
	return &HTTPRequest{
		Method:  http.MethodGet,
		URL:     endpoint + "?" + data,
		Headers: headers,
	}, nil
}

// isSuccess reports whether resp confirms delivery: a 2xx status and a JSON
// body whose result is "Success".
func isSuccess(resp *HTTPResponse) bool {
	if resp == nil || resp.Status < 200 || resp.Status >= 300 {
		return false
	}
	var body struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return false
	}
	return body.Result == successMarker
}

// endpointURL joins base and path, dropping a trailing slash from base.
func endpointURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
