package ble

import (
	"errors"

	"github.com/blebeacon/blebeacon/internal/ble/region"
)

// Precondition failures, reported synchronously with no side effects.
var (
	ErrAdapterUnavailable    = errors.New("bluetooth adapter unavailable")
	ErrAdapterDisabled       = errors.New("bluetooth disabled")
	ErrAdvertiserUnavailable = errors.New("advertiser unavailable on this device")
	ErrScannerUnavailable    = errors.New("scanner unavailable on this device")
	ErrInvalidUUID           = errors.New("invalid uuid")
	ErrInvalidRegion         = errors.New("region major and minor must be in 0..65535")
	ErrRegionNotFound        = region.ErrNotFound
)

// Advertise start failures, delivered through the pending completion.
var (
	ErrFeatureUnsupported = errors.New("this feature is not supported on this platform")
	ErrTooManyAdvertisers = errors.New("no advertising instance is available")
	ErrAlreadyStarted     = errors.New("advertising is already started")
	ErrDataTooLarge       = errors.New("advertise data is larger than 31 bytes")
	ErrInternal           = errors.New("operation failed due to an internal error")
)

// ErrCanceled rejects a completion whose advertisement was replaced or
// stopped before the platform answered.
var ErrCanceled = errors.New("advertisement canceled before it started")

// AdvertiseFailure maps a numeric platform start-failure code to an error.
func AdvertiseFailure(code int) error {
	switch code {
	case 1:
		return ErrDataTooLarge
	case 2:
		return ErrTooManyAdvertisers
	case 3:
		return ErrAlreadyStarted
	case 5:
		return ErrFeatureUnsupported
	default:
		return ErrInternal
	}
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAdapterUnavailable, "AdapterUnavailable"},
	{ErrAdapterDisabled, "AdapterDisabled"},
	{ErrAdvertiserUnavailable, "AdvertiserUnavailable"},
	{ErrScannerUnavailable, "ScannerUnavailable"},
	{ErrInvalidUUID, "InvalidUUID"},
	{ErrInvalidRegion, "InvalidRegion"},
	{ErrRegionNotFound, "RegionNotFound"},
	{ErrFeatureUnsupported, "FeatureUnsupported"},
	{ErrTooManyAdvertisers, "TooManyAdvertisers"},
	{ErrAlreadyStarted, "AlreadyStarted"},
	{ErrDataTooLarge, "DataTooLarge"},
	{ErrInternal, "InternalError"},
	{ErrCanceled, "Canceled"},
}

// ErrorCode returns the stable name of the error kind wrapped by err,
// or "InternalError" for anything else.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "InternalError"
}
