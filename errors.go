package staging

import "errors"

// Engine errors.
var (
	// ErrCapacityExceeded is returned when a single request's aligned size
	// exceeds the maximum staging capacity. The request fails; the engine
	// remains usable.
	ErrCapacityExceeded = errors.New("staging: aligned transfer size exceeds maximum capacity")

	// ErrTransferTimeout is returned when a bounded wait on a completion
	// token expires. The device queue is presumed stalled or lost: the
	// engine is invalidated and further transfers return ErrDeviceInvalid.
	// Callers must rebuild the engine; retrying would reuse potentially
	// corrupt state.
	ErrTransferTimeout = errors.New("staging: timed out waiting for transfer completion")

	// ErrDeviceInvalid is returned once a previous fatal transfer error
	// has invalidated the engine.
	ErrDeviceInvalid = errors.New("staging: device invalidated by a fatal transfer error")

	// ErrInvalidRegion signals an internal invariant violation in region
	// bookkeeping. It is a programming defect, never an expected runtime
	// condition.
	ErrInvalidRegion = errors.New("staging: internal region invariant violated")

	// ErrClosed is returned when operating on a closed device.
	ErrClosed = errors.New("staging: device is closed")

	// ErrNilBackend is returned when creating a device without a backend.
	ErrNilBackend = errors.New("staging: backend is nil")

	// ErrNilTarget is returned when a transfer references a nil resource
	// handle.
	ErrNilTarget = errors.New("staging: target resource handle is nil")

	// ErrSizeZero is returned when a transfer carries no bytes.
	ErrSizeZero = errors.New("staging: transfer size must be greater than zero")

	// ErrRegionEmpty is returned when a texture transfer region has a zero
	// dimension.
	ErrRegionEmpty = errors.New("staging: texture region is empty")
)
