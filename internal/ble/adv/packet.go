// Package adv builds and parses BLE advertising data (AD structures).
package adv

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// MaxLegacyLen is the payload limit of a legacy advertising PDU.
const MaxLegacyLen = 31

// AD types used by this package.
const (
	TypeFlags            = 0x01
	TypeSomeUUID16       = 0x02
	TypeAllUUID16        = 0x03
	TypeSomeUUID128      = 0x06
	TypeAllUUID128       = 0x07
	TypeShortName        = 0x08
	TypeCompleteName     = 0x09
	TypeTxPower          = 0x0A
	TypeServiceData16    = 0x16
	TypeServiceData128   = 0x21
	TypeManufacturerData = 0xFF
)

// FlagsGeneralLEOnly is the flags value a discoverable LE-only peripheral sends.
const FlagsGeneralLEOnly = 0x06

// Packet is a sequence of length-type-value AD structures.
type Packet []byte

// AppendField appends one AD structure.
func (p Packet) AppendField(typ byte, data []byte) Packet {
	p = append(p, byte(len(data)+1), typ)
	return append(p, data...)
}

// AppendFlags appends the flags structure.
func (p Packet) AppendFlags(f byte) Packet {
	return p.AppendField(TypeFlags, []byte{f})
}

// AppendCompleteName appends the complete local name.
func (p Packet) AppendCompleteName(name string) Packet {
	return p.AppendField(TypeCompleteName, []byte(name))
}

// AppendTxPower appends the tx power level in dBm.
func (p Packet) AppendTxPower(dbm int8) Packet {
	return p.AppendField(TypeTxPower, []byte{byte(dbm)})
}

// AppendUUIDs appends a complete list of 128-bit service UUIDs.
func (p Packet) AppendUUIDs(ids ...uuid.UUID) Packet {
	if len(ids) == 0 {
		return p
	}
	b := make([]byte, 0, 16*len(ids))
	for _, id := range ids {
		b = append(b, reverse(id[:])...)
	}
	return p.AppendField(TypeAllUUID128, b)
}

// AppendServiceData appends service data keyed by a 128-bit UUID.
func (p Packet) AppendServiceData(id uuid.UUID, data []byte) Packet {
	b := append(reverse(id[:]), data...)
	return p.AppendField(TypeServiceData128, b)
}

// AppendManufacturerData appends manufacturer specific data. The company
// identifier is little-endian on the air.
func (p Packet) AppendManufacturerData(companyID uint16, data []byte) Packet {
	b := make([]byte, 2, 2+len(data))
	binary.LittleEndian.PutUint16(b, companyID)
	return p.AppendField(TypeManufacturerData, append(b, data...))
}

// Fits reports whether the packet fits a legacy advertising PDU.
func (p Packet) Fits() bool {
	return len(p) <= MaxLegacyLen
}

// Field returns the data of the first structure of type typ, or nil.
// Parsing stops at the first malformed structure.
func (p Packet) Field(typ byte) []byte {
	var found []byte
	p.each(func(t byte, data []byte) bool {
		if t == typ {
			found = data
			return false
		}
		return true
	})
	return found
}

// each walks the AD structures in order until fn returns false.
func (p Packet) each(fn func(typ byte, data []byte) bool) {
	b := p
	for len(b) >= 2 {
		l := int(b[0])
		if l == 0 {
			// zero length marks early termination of the significant part
			return
		}
		if len(b) < 1+l {
			return
		}
		if !fn(b[1], b[2:1+l]) {
			return
		}
		b = b[1+l:]
	}
}

// Flags returns the flags byte.
func (p Packet) Flags() (byte, bool) {
	b := p.Field(TypeFlags)
	if len(b) < 1 {
		return 0, false
	}
	return b[0], true
}

// LocalName returns the complete name, falling back to the shortened one.
func (p Packet) LocalName() string {
	if b := p.Field(TypeCompleteName); b != nil {
		return string(b)
	}
	return string(p.Field(TypeShortName))
}

// TxPower returns the advertised tx power level in dBm.
func (p Packet) TxPower() (int, bool) {
	b := p.Field(TypeTxPower)
	if len(b) < 1 {
		return 0, false
	}
	return int(int8(b[0])), true
}

// UUIDs returns all advertised service UUIDs. 16-bit UUIDs are expanded
// with the Bluetooth base UUID.
func (p Packet) UUIDs() []uuid.UUID {
	var ids []uuid.UUID
	p.each(func(t byte, data []byte) bool {
		switch t {
		case TypeSomeUUID16, TypeAllUUID16:
			for ; len(data) >= 2; data = data[2:] {
				ids = append(ids, From16(binary.LittleEndian.Uint16(data)))
			}
		case TypeSomeUUID128, TypeAllUUID128:
			for ; len(data) >= 16; data = data[16:] {
				var id uuid.UUID
				copy(id[:], reverse(data[:16]))
				ids = append(ids, id)
			}
		}
		return true
	})
	return ids
}

// ManufacturerData returns all manufacturer specific data keyed by company.
func (p Packet) ManufacturerData() map[uint16][]byte {
	m := make(map[uint16][]byte)
	p.each(func(t byte, data []byte) bool {
		if t == TypeManufacturerData && len(data) >= 2 {
			m[binary.LittleEndian.Uint16(data)] = data[2:]
		}
		return true
	})
	return m
}

// bluetoothBase is 00000000-0000-1000-8000-00805F9B34FB.
var bluetoothBase = uuid.UUID{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0x80, 0x5F, 0x9B, 0x34, 0xFB,
}

// From16 expands a 16-bit assigned number to a full UUID.
func From16(short uint16) uuid.UUID {
	id := bluetoothBase
	binary.BigEndian.PutUint16(id[2:4], short)
	return id
}

// reverse returns a reversed copy; UUIDs are little-endian on the air.
func reverse(b []byte) []byte {
	r := make([]byte, len(b))
	for i, v := range b {
		r[len(b)-1-i] = v
	}
	return r
}
