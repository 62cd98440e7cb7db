// Package packet implements the fixed-layout binary records exchanged over the
// radio link between hive sensors and the base station.
//
// Two layouts exist and the total byte length is the only discriminant:
//
//	Classified (16 bytes): hive u8 | status u8 | anomaly u8 | temp i16 | humidity u8 |
//	                       battery u16 | timestamp u32 | feature hash [4]u8
//	Raw (318 bytes):       hive u8 | temp i16 | humidity u8 | battery u16 | 78 x f32
//
// All multi-byte fields are little-endian with no padding. Temperature is
// carried as hundredths of a degree Celsius.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"buzzhive/internal/features"
)

const (
	// ClassifiedSize is the encoded length of a Classified packet.
	ClassifiedSize = 16
	// RawSize is the encoded length of a Raw packet.
	RawSize = 6 + features.VectorLen*4
)

// ErrUnknownVariant is returned by Decode when a payload length matches no layout.
var ErrUnknownVariant = errors.New("packet: unknown variant")

// Packet is one of Classified or Raw.
type Packet interface {
	Hive() uint8
	MarshalBinary() ([]byte, error)
}

// Classified carries a result computed on the sensor node.
type Classified struct {
	HiveID       uint8
	QueenStatus  uint8
	AnomalyScore uint8
	Temperature  int16 // centi-degrees Celsius
	Humidity     uint8
	BatteryMv    uint16
	Timestamp    uint32 // Unix seconds at the sensor
	FeatureHash  [4]byte
}

// Raw carries the unclassified feature vector for classification at the base station.
type Raw struct {
	HiveID      uint8
	Temperature int16 // centi-degrees Celsius
	Humidity    uint8
	BatteryMv   uint16
	Features    features.Vector
}

func (p Classified) Hive() uint8 { return p.HiveID }
func (p Raw) Hive() uint8        { return p.HiveID }

// MarshalBinary encodes p into its 16-byte wire form.
func (p Classified) MarshalBinary() ([]byte, error) {
	b := make([]byte, ClassifiedSize)
	b[0] = p.HiveID
	b[1] = p.QueenStatus
	b[2] = p.AnomalyScore
	binary.LittleEndian.PutUint16(b[3:5], uint16(p.Temperature))
	b[5] = p.Humidity
	binary.LittleEndian.PutUint16(b[6:8], p.BatteryMv)
	binary.LittleEndian.PutUint32(b[8:12], p.Timestamp)
	copy(b[12:16], p.FeatureHash[:])
	return b, nil
}

// UnmarshalBinary decodes a 16-byte Classified payload.
func (p *Classified) UnmarshalBinary(b []byte) error {
	if len(b) != ClassifiedSize {
		return fmt.Errorf("packet: classified payload is %d bytes, want %d", len(b), ClassifiedSize)
	}
	p.HiveID = b[0]
	p.QueenStatus = b[1]
	p.AnomalyScore = b[2]
	p.Temperature = int16(binary.LittleEndian.Uint16(b[3:5]))
	p.Humidity = b[5]
	p.BatteryMv = binary.LittleEndian.Uint16(b[6:8])
	p.Timestamp = binary.LittleEndian.Uint32(b[8:12])
	copy(p.FeatureHash[:], b[12:16])
	return nil
}

// MarshalBinary encodes p into its 318-byte wire form.
func (p Raw) MarshalBinary() ([]byte, error) {
	b := make([]byte, RawSize)
	b[0] = p.HiveID
	binary.LittleEndian.PutUint16(b[1:3], uint16(p.Temperature))
	b[3] = p.Humidity
	binary.LittleEndian.PutUint16(b[4:6], p.BatteryMv)
	for i, f := range p.Features {
		off := 6 + i*4
		binary.LittleEndian.PutUint32(b[off:off+4], math.Float32bits(f))
	}
	return b, nil
}

// UnmarshalBinary decodes a 318-byte Raw payload.
func (p *Raw) UnmarshalBinary(b []byte) error {
	if len(b) != RawSize {
		return fmt.Errorf("packet: raw payload is %d bytes, want %d", len(b), RawSize)
	}
	p.HiveID = b[0]
	p.Temperature = int16(binary.LittleEndian.Uint16(b[1:3]))
	p.Humidity = b[3]
	p.BatteryMv = binary.LittleEndian.Uint16(b[4:6])
	for i := range p.Features {
		off := 6 + i*4
		p.Features[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
	}
	return nil
}

// Decode selects the layout by payload length. Any length other than
// ClassifiedSize or RawSize yields ErrUnknownVariant.
func Decode(b []byte) (Packet, error) {
	switch len(b) {
	case ClassifiedSize:
		var p Classified
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return p, nil
	case RawSize:
		var p Raw
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrUnknownVariant, len(b))
	}
}

// FeatureHash returns the first four bytes of the vector's little-endian bit
// pattern. It is a weak marker only; receivers do not verify it.
func FeatureHash(v *features.Vector) [4]byte {
	var h [4]byte
	binary.LittleEndian.PutUint32(h[:], math.Float32bits(v[0]))
	return h
}

// EncodeTemperature converts degrees Celsius to the wire's centi-degrees,
// truncating toward zero and saturating to int16. NaN encodes as 0.
func EncodeTemperature(celsius float64) int16 {
	if math.IsNaN(celsius) {
		return 0
	}
	v := math.Trunc(celsius * 100)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodeTemperature converts wire centi-degrees back to degrees Celsius.
func DecodeTemperature(v int16) float64 {
	return float64(v) / 100
}

// EncodeHumidity truncates a relative humidity reading to whole percent in 0..100.
// NaN encodes as 0.
func EncodeHumidity(percent float64) uint8 {
	switch {
	case math.IsNaN(percent) || percent <= 0:
		return 0
	case percent >= 100:
		return 100
	}
	return uint8(percent)
}
