//go:build !linux

package ble

// advertiseBroadcastOnly is false where the stack honors the advertisement
// type.
const advertiseBroadcastOnly = false

// platformPower has no implementation outside Linux; the adapter falls back
// to the bluetooth stack's own enabled state.
func platformPower(string) (PowerControl, error) {
	return nil, ErrFeatureUnsupported
}
