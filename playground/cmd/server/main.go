package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
)

const PORT = 3000

// params merges the query string and a form body, the two ways the SDK
// sends data.
func params(r *http.Request) (url.Values, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.Form, nil
}

func reply(w http.ResponseWriter, status int, result string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"result": result})
}

func hasErrorTrigger(values url.Values) bool {
	raw := values.Get("events")
	if raw == "" {
		return false
	}
	var events []map[string]any
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return false
	}
	for _, event := range events {
		if seg, ok := event["segmentation"].(map[string]any); ok && seg["trigger_error"] == true {
			return true
		}
	}
	return false
}

func main() {
	http.HandleFunc("/i", func(w http.ResponseWriter, r *http.Request) {
		values, err := params(r)
		if err != nil {
			log.Printf("❌ Invalid request: %v", err)
			reply(w, http.StatusBadRequest, "Invalid request")
			return
		}
		if values.Get("app_key") == "" || values.Get("device_id") == "" {
			reply(w, http.StatusBadRequest, "Missing parameter \"app_key\" or \"device_id\"")
			return
		}

		log.Printf("📊 %s from %s", r.Method, values.Get("device_id"))
		for k, v := range values {
			log.Printf("   %s = %s", k, v[0])
		}

		if hasErrorTrigger(values) {
			log.Printf("🔄 Client should retry this request (error triggered)")
			reply(w, http.StatusInternalServerError, "Simulated server error")
			return
		}
		reply(w, http.StatusOK, "Success")
	})

	http.HandleFunc("/i/bulk", func(w http.ResponseWriter, r *http.Request) {
		values, err := params(r)
		if err != nil {
			reply(w, http.StatusBadRequest, "Invalid request")
			return
		}
		var requests []map[string]any
		if err := json.Unmarshal([]byte(values.Get("requests")), &requests); err != nil {
			log.Printf("❌ Invalid requests param")
			reply(w, http.StatusBadRequest, "Invalid requests")
			return
		}
		log.Printf("📦 Bulk of %d requests for app %s", len(requests), values.Get("app_key"))
		reply(w, http.StatusOK, "Success")
	})

	log.Printf("🚀 Collector running at http://localhost:%d", PORT)
	log.Printf("📍 Endpoints: /i and /i/bulk")
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", PORT), nil))
}
