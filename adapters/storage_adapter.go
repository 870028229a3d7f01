package adapters

// StorageAdapter is a durable key/value blob store.
// Implement this interface to use custom storage backends (database, Redis, S3, etc.).
type StorageAdapter interface {
	// Get returns the blob stored under key.
	//
	// Returns nil and no error when the key has never been set.
	Get(key string) ([]byte, error)

	// Set replaces the blob stored under key.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Quarantiner is implemented by stores that can set a corrupted blob aside
// for later inspection instead of silently overwriting it.
type Quarantiner interface {
	Quarantine(key string) error
}
