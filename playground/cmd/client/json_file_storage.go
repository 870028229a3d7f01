package main

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/Tap30/pulse-go/adapters"
)

// JSONFileStorage keeps every blob in a single JSON file.
type JSONFileStorage struct {
	mu       sync.Mutex
	filepath string
}

// Ensure JSONFileStorage implements StorageAdapter interface
var _ adapters.StorageAdapter = (*JSONFileStorage)(nil)

func NewJSONFileStorage(filepath string) *JSONFileStorage {
	return &JSONFileStorage{filepath: filepath}
}

func (f *JSONFileStorage) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	blobs := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &blobs); err != nil {
		return nil, err
	}
	return blobs, nil
}

func (f *JSONFileStorage) write(blobs map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(blobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.filepath, data, 0o644)
}

// Get returns the blob under key, or nil if there is none.
func (f *JSONFileStorage) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	blobs, err := f.read()
	if err != nil {
		return nil, err
	}
	return blobs[key], nil
}

func (f *JSONFileStorage) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blobs, err := f.read()
	if err != nil {
		return err
	}
	blobs[key] = json.RawMessage(value)
	return f.write(blobs)
}

func (f *JSONFileStorage) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blobs, err := f.read()
	if err != nil {
		return err
	}
	delete(blobs, key)
	return f.write(blobs)
}
