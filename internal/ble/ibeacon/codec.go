// Package ibeacon implements the iBeacon manufacturer payload carried in BLE
// advertisements, and the RSSI based distance model used to range beacons.
package ibeacon

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// AppleCompanyID is the Bluetooth SIG company identifier assigned to Apple.
// iBeacon payloads are only recognized under this manufacturer ID.
const AppleCompanyID uint16 = 0x004C

// Payload layout constants.
const (
	PayloadLen = 23   // type + length + uuid + major + minor + power
	TypeByte   = 0x02 // iBeacon advertisement type
	LengthByte = 0x15 // bytes following the length byte
)

// Beacon is the identity and calibration carried by one iBeacon payload.
type Beacon struct {
	UUID          uuid.UUID
	Major         uint16
	Minor         uint16
	MeasuredPower int8 // calibrated RSSI at 1 meter
}

// Observation is a decoded beacon together with the RSSI it was received at.
type Observation struct {
	Beacon
	RSSI int
}

// Encode builds the 23-byte manufacturer payload for b.
//
//	offset 0      type = 0x02
//	offset 1      length = 0x15
//	offset 2-17   uuid, big-endian
//	offset 18-19  major, big-endian
//	offset 20-21  minor, big-endian
//	offset 22     measured power, signed
//
// Callers holding wider integers truncate to the field width before
// encoding, e.g. uint16(major) keeps the low 16 bits.
func Encode(b Beacon) []byte {
	buf := make([]byte, PayloadLen)
	buf[0] = TypeByte
	buf[1] = LengthByte
	copy(buf[2:18], b.UUID[:])
	binary.BigEndian.PutUint16(buf[18:20], b.Major)
	binary.BigEndian.PutUint16(buf[20:22], b.Minor)
	buf[22] = byte(b.MeasuredPower)
	return buf
}

// Decode parses an iBeacon payload found under manufacturer ID companyID.
// It reports false when the payload is not an iBeacon: wrong company, fewer
// than 23 bytes, or a type/length prefix other than 0x02 0x15.
func Decode(companyID uint16, payload []byte) (Beacon, bool) {
	if companyID != AppleCompanyID || len(payload) < PayloadLen {
		return Beacon{}, false
	}
	if payload[0] != TypeByte || payload[1] != LengthByte {
		return Beacon{}, false
	}
	var b Beacon
	copy(b.UUID[:], payload[2:18])
	b.Major = binary.BigEndian.Uint16(payload[18:20])
	b.Minor = binary.BigEndian.Uint16(payload[20:22])
	b.MeasuredPower = int8(payload[22])
	return b, true
}
