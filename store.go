package pulse

import (
	"encoding/json"

	"github.com/Tap30/pulse-go/adapters"
)

// blobStore persists values as {"<key>": value} JSON documents. Failures are
// logged and never block in-memory progress.
type blobStore struct {
	adapter StorageAdapter
	logger  LoggerAdapter
}

func newBlobStore(adapter StorageAdapter, logger LoggerAdapter) *blobStore {
	if adapter == nil {
		adapter = adapters.NewNoOpStorageAdapter()
	}
	return &blobStore{adapter: adapter, logger: logger}
}

// load decodes the document under key into v. It reports false when the key
// is missing, unreadable, or corrupted; corrupted documents are quarantined
// when the adapter supports it. v is left untouched in that case.
func (s *blobStore) load(key string, v any) bool {
	data, err := s.adapter.Get(key)
	if err != nil {
		s.logger.Error("Failed to read %s: %v", key, err)
		return false
	}
	if data == nil {
		return false
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err == nil {
		raw, ok := doc[key]
		if !ok || string(raw) == "null" {
			return false
		}
		if err = json.Unmarshal(raw, v); err == nil {
			return true
		}
		s.logger.Error("Corrupted %s document, starting empty: %v", key, err)
	} else {
		s.logger.Error("Corrupted %s document, starting empty: %v", key, err)
	}

	if q, ok := s.adapter.(adapters.Quarantiner); ok {
		if err := q.Quarantine(key); err != nil {
			s.logger.Warn("Failed to quarantine %s: %v", key, err)
		}
	}
	return false
}

// save writes v under key.
func (s *blobStore) save(key string, v any) {
	data, err := json.Marshal(map[string]any{key: v})
	if err != nil {
		s.logger.Error("Failed to encode %s: %v", key, err)
		return
	}
	if err := s.adapter.Set(key, data); err != nil {
		s.logger.Error("Failed to persist %s: %v", key, err)
	}
}

// Snapshot is the persisted state of a client.
type Snapshot struct {
	DeviceID string
	Requests []Request
	Events   []Event
}

// ReadSnapshot loads the persisted client state from storage without
// starting a client.
func ReadSnapshot(storage StorageAdapter, logger LoggerAdapter) Snapshot {
	if logger == nil {
		logger = adapters.NewNoOpLoggerAdapter()
	}
	s := newBlobStore(storage, logger)

	var snap Snapshot
	s.load(keyDeviceID, &snap.DeviceID)
	s.load(keyQueue, &snap.Requests)
	s.load(keyEvents, &snap.Events)
	return snap
}
