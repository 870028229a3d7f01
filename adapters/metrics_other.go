//go:build !linux && !darwin

package adapters

func osRelease() string {
	return ""
}
