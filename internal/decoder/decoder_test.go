package decoder

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gridsense/pdmon/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTrip(t *testing.T) {
	in := Reading{
		Status:        2,
		DischargeType: DischargeCorona,
		Frequency:     50,
		PulseCount:    1234,
		Magnitude:     decimal.RequireFromString("-12.345"),
		Spectrum:      []byte{9, 8, 7},
	}

	frame, err := Encode(in)
	require.NoError(t, err)
	assert.Len(t, frame, HeaderSize+3)

	out, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Status)
	assert.Equal(t, DischargeCorona, out.DischargeType)
	assert.Equal(t, "corona", out.DischargeType.String())
	assert.Equal(t, 50.0, out.Frequency)
	assert.Equal(t, int64(1234), out.PulseCount)
	assert.True(t, out.Magnitude.Equal(in.Magnitude), "got %s", out.Magnitude)
	assert.Equal(t, []byte{9, 8, 7}, out.Spectrum)
}

func TestDecode_Errors(t *testing.T) {
	valid, err := Encode(Reading{Magnitude: decimal.NewFromInt(1)})
	require.NoError(t, err)

	mutate := func(f func(b []byte)) []byte {
		b := append([]byte(nil), valid...)
		f(b)
		return b
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{"truncated", valid[:HeaderSize-1]},
		{"bad magic", mutate(func(b []byte) { b[0] = 'X' })},
		{"bad version", mutate(func(b []byte) { b[2] = 9 })},
		{"unknown discharge type", mutate(func(b []byte) { b[4] = 42 })},
		{"nan frequency", mutate(func(b []byte) {
			binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(float32(math.NaN())))
		})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reading, err := Decode(tc.payload)
			assert.Nil(t, reading)
			assert.ErrorIs(t, err, utils.ErrDecode)
			assert.NotErrorIs(t, err, ErrNoData)
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	reading, err := Decode(nil)
	assert.Nil(t, reading)
	assert.ErrorIs(t, err, ErrNoData)
	assert.True(t, utils.IsDecodeError(err))
}

func TestDecode_MagnitudeIsExact(t *testing.T) {
	frame, err := Encode(Reading{Magnitude: decimal.RequireFromString("0.1")})
	require.NoError(t, err)

	out, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "0.1", out.Magnitude.String())
}
