package adapters

// NoOpStorageAdapter is a storage adapter that performs no operations.
// Useful for scenarios where queue persistence is not required.
type NoOpStorageAdapter struct{}

// NewNoOpStorageAdapter creates a new NoOpStorageAdapter instance.
func NewNoOpStorageAdapter() *NoOpStorageAdapter {
	return &NoOpStorageAdapter{}
}

// Get always reports the key as missing.
func (n *NoOpStorageAdapter) Get(key string) ([]byte, error) {
	return nil, nil
}

// Set does nothing and always returns nil.
func (n *NoOpStorageAdapter) Set(key string, value []byte) error {
	return nil
}

// Delete does nothing and always returns nil.
func (n *NoOpStorageAdapter) Delete(key string) error {
	return nil
}
