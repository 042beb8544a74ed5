// Package capture owns audio device acquisition/release and buffers encoded
// audio chunks for one recording cycle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrPermissionDenied is returned when the user or platform refuses
	// access to the audio input device.
	ErrPermissionDenied = errors.New("audio device permission denied")
	// ErrDeviceUnavailable is returned for any other acquisition failure.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Device is an exclusively owned audio input.
type Device interface {
	// Open acquires the device and starts delivering chunks.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired device. Chunks are delivered on a bounded channel
// that is closed when the stream ends or is closed.
type Stream interface {
	Chunks() <-chan []byte
	// MimeType describes the encoding of the delivered chunks.
	MimeType() string
	// Close releases the device and closes the Chunks channel once queued
	// chunks have been delivered. Safe to call more than once.
	Close() error
}

// DeviceFunc adapts a function to the Device interface.
type DeviceFunc func(ctx context.Context) (Stream, error)

// Open calls f(ctx).
func (f DeviceFunc) Open(ctx context.Context) (Stream, error) { return f(ctx) }

// classify maps an acquisition error onto the capture taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable):
		return err
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}

// Reason returns a short label for a setup failure, for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	default:
		return "unknown"
	}
}
