package adapters

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the frame header every zstd stream starts with. Blobs are
// sniffed on read, so compression can be toggled without migrating files.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("adapters: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("adapters: zstd decoder initialization failed: " + err.Error())
	}
}

// FileStorageAdapter is the default storage adapter implementation using file system.
// Each key is stored as its own file named __<key>.json inside dir.
type FileStorageAdapter struct {
	dir      string
	compress bool
}

// Ensure FileStorageAdapter implements StorageAdapter interface
var (
	_ StorageAdapter = (*FileStorageAdapter)(nil)
	_ Quarantiner    = (*FileStorageAdapter)(nil)
)

// FileStorageOption configures a FileStorageAdapter.
type FileStorageOption func(*FileStorageAdapter)

// WithCompression stores blobs zstd-compressed.
func WithCompression() FileStorageOption {
	return func(f *FileStorageAdapter) {
		f.compress = true
	}
}

// NewFileStorageAdapter creates a new FileStorageAdapter instance.
//
// Parameters:
//   - dir: Directory holding one file per key; created if missing
func NewFileStorageAdapter(dir string, opts ...FileStorageOption) (*FileStorageAdapter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	f := &FileStorageAdapter{dir: dir}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *FileStorageAdapter) path(key string) string {
	return filepath.Join(f.dir, "__"+key+".json")
}

// Get reads the blob for key.
// Returns nil if the file doesn't exist.
func (f *FileStorageAdapter) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if bytes.HasPrefix(data, zstdMagic) {
		decoded, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress %s: %w", key, err)
		}
		return decoded, nil
	}
	return data, nil
}

// Set writes the blob for key through a temp file and rename.
func (f *FileStorageAdapter) Set(key string, value []byte) error {
	if f.compress {
		value = zstdEncoder.EncodeAll(value, nil)
	}
	tmp, err := os.CreateTemp(f.dir, ".__"+key+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

// Delete removes the file for key.
func (f *FileStorageAdapter) Delete(key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Quarantine renames the file for key to __<key>.<unix-nanos>.json.
func (f *FileStorageAdapter) Quarantine(key string) error {
	backup := filepath.Join(f.dir, "__"+key+"."+strconv.FormatInt(time.Now().UnixNano(), 10)+".json")
	err := os.Rename(f.path(key), backup)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
