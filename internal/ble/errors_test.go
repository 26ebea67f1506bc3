package ble

import (
	"errors"
	"fmt"
	"testing"
)

func TestAdvertiseFailure(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{1, ErrDataTooLarge},
		{2, ErrTooManyAdvertisers},
		{3, ErrAlreadyStarted},
		{4, ErrInternal},
		{5, ErrFeatureUnsupported},
		{42, ErrInternal},
	}
	for _, tt := range tests {
		if got := AdvertiseFailure(tt.code); got != tt.want {
			t.Errorf("AdvertiseFailure(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrAdapterUnavailable, "AdapterUnavailable"},
		{fmt.Errorf("ble: %q: %w", "x", ErrInvalidUUID), "InvalidUUID"},
		{fmt.Errorf("ble: %d: %w", 70000, ErrInvalidRegion), "InvalidRegion"},
		{fmt.Errorf("ble: start advertising a: %w", ErrDataTooLarge), "DataTooLarge"},
		{ErrRegionNotFound, "RegionNotFound"},
		{fmt.Errorf("ble: advertisement a: %w", ErrCanceled), "Canceled"},
		{errors.New("boom"), "InternalError"},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
