// Package decoder parses the binary acquisition frames produced by the
// partial-discharge monitors. Decoding is pure: it never touches the network
// or the store.
package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gridsense/pdmon/internal/utils"
	"github.com/shopspring/decimal"
)

const (
	// Version is the only frame layout understood by this decoder
	Version = 1
	// HeaderSize is the length of the fixed part of a frame
	HeaderSize = 20

	magic0 = 'P'
	magic1 = 'D'
)

// ErrNoData is returned for an empty payload
var ErrNoData = fmt.Errorf("%w: empty payload", utils.ErrDecode)

// DischargeType is the site-computed discharge classification
type DischargeType uint8

const (
	DischargeNone DischargeType = iota
	DischargeInternal
	DischargeSurface
	DischargeCorona
	DischargeFloating
	DischargeInterference
)

var dischargeNames = map[DischargeType]string{
	DischargeNone:         "",
	DischargeInternal:     "internal",
	DischargeSurface:      "surface",
	DischargeCorona:       "corona",
	DischargeFloating:     "floating",
	DischargeInterference: "interference",
}

// String returns the label stored with the sample; none maps to ""
func (d DischargeType) String() string {
	return dischargeNames[d]
}

// Reading is one decoded acquisition
type Reading struct {
	Status        int
	DischargeType DischargeType
	Frequency     float64 // Hz
	PulseCount    int64
	Magnitude     decimal.Decimal // dBmV
	Spectrum      []byte
}

// Decode parses a frame. Empty payloads yield ErrNoData, every other problem
// an error wrapping utils.ErrDecode.
func Decode(payload []byte) (*Reading, error) {
	if len(payload) == 0 {
		return nil, ErrNoData
	}
	if len(payload) < HeaderSize {
		return nil, decodeError("frame too short: %d bytes", len(payload))
	}
	if payload[0] != magic0 || payload[1] != magic1 {
		return nil, decodeError("bad magic %q", payload[0:2])
	}
	if payload[2] != Version {
		return nil, decodeError("unsupported frame version %d", payload[2])
	}

	kind := DischargeType(payload[4])
	if _, ok := dischargeNames[kind]; !ok {
		return nil, decodeError("unknown discharge type code %d", payload[4])
	}

	freq := float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[8:12])))
	if math.IsNaN(freq) || math.IsInf(freq, 0) {
		return nil, decodeError("invalid frequency")
	}

	reading := &Reading{
		Status:        int(payload[3]),
		DischargeType: kind,
		Frequency:     freq,
		PulseCount:    int64(binary.LittleEndian.Uint32(payload[12:16])),
		Magnitude:     decimal.New(int64(int32(binary.LittleEndian.Uint32(payload[16:20]))), -3),
	}

	if len(payload) > HeaderSize {
		reading.Spectrum = append([]byte(nil), payload[HeaderSize:]...)
	}

	return reading, nil
}

// Encode builds a frame from a reading. The magnitude is truncated to
// thousandths.
func Encode(r Reading) ([]byte, error) {
	if _, ok := dischargeNames[r.DischargeType]; !ok {
		return nil, fmt.Errorf("unknown discharge type %d", r.DischargeType)
	}
	if r.Status < 0 || r.Status > math.MaxUint8 {
		return nil, fmt.Errorf("status %d out of range", r.Status)
	}
	if r.PulseCount < 0 || r.PulseCount > math.MaxUint32 {
		return nil, fmt.Errorf("pulse count %d out of range", r.PulseCount)
	}

	milli := r.Magnitude.Shift(3).Truncate(0)
	if milli.LessThan(decimal.NewFromInt(math.MinInt32)) || milli.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return nil, errors.New("magnitude out of range")
	}

	buf := make([]byte, HeaderSize+len(r.Spectrum))
	buf[0], buf[1], buf[2] = magic0, magic1, Version
	buf[3] = byte(r.Status)
	buf[4] = byte(r.DischargeType)
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(r.Frequency)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.PulseCount))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(int32(milli.IntPart())))
	copy(buf[HeaderSize:], r.Spectrum)

	return buf, nil
}

func decodeError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", utils.ErrDecode, fmt.Sprintf(format, args...))
}
