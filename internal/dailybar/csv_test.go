package dailybar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhos/mdic/internal/mdicerr"
)

const validCSV = `date,open,high,low,close,volume,open_interest
2026/01/02,100.00,105.50,99.00,104.25,150000,2000
2026/01/03,104.25,106.00,103.00,105.00,120000,2100
`

func TestDecodeValid(t *testing.T) {
	bars, warnings, err := Decode("NQU25-CME", []byte(validCSV))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Date.Before(bars[1].Date))
	assert.Equal(t, "104.25", bars[0].Close.String())
}

func TestDecodeSortsAscending(t *testing.T) {
	unsorted := "date,open,high,low,close,volume,open_interest\n" +
		"2026/01/03,1,2,0,1,100,\n" +
		"2026/01/01,1,2,0,1,100,\n"
	bars, _, err := Decode("X", []byte(unsorted))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Date.Before(bars[1].Date))
}

func TestDecodeSkipsMalformedRowUnderThreshold(t *testing.T) {
	var sb string
	sb = "date,open,high,low,close,volume,open_interest\n"
	for i := 0; i < 40; i++ {
		sb += "2026/02/01,1,2,0,1,100,\n"
	}
	sb += "not-a-date,1,2,0,1,100,\n" // 1/41 ~2.4%, under threshold
	bars, warnings, err := Decode("X", []byte(sb))
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
	assert.Len(t, bars, 40)
}

func TestDecodeRejectsOverThreshold(t *testing.T) {
	sb := "date,open,high,low,close,volume,open_interest\n"
	sb += "2026/02/01,1,2,0,1,100,\n"
	sb += "bad,1,2,0,1,100,\n"
	_, warnings, err := Decode("X", []byte(sb))
	require.Error(t, err)
	assert.Equal(t, mdicerr.DecodeError, mdicerr.KindOf(err))
	assert.NotEmpty(t, warnings)
}

func TestDecodeInvalidOHLCWarns(t *testing.T) {
	sb := "date,open,high,low,close,volume,open_interest\n"
	for i := 0; i < 19; i++ {
		sb += "2026/02/01,1,2,0,1,100,\n"
	}
	sb += "2026/02/02,1,2,5,1,100,\n" // low > high
	bars, warnings, err := Decode("X", []byte(sb))
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
	assert.Len(t, bars, 19)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bars, _, err := Decode("NQU25-CME", []byte(validCSV))
	require.NoError(t, err)

	reencoded := Encode(bars)
	decoded, warnings, err := Decode("NQU25-CME", reencoded)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, decoded, len(bars))
	for i := range bars {
		assert.True(t, bars[i].Date.Equal(decoded[i].Date))
		assert.True(t, bars[i].Close.Equal(decoded[i].Close))
		assert.Equal(t, bars[i].Volume, decoded[i].Volume)
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	_, _, err := Decode("X", []byte{})
	require.Error(t, err)
	assert.Equal(t, mdicerr.DecodeError, mdicerr.KindOf(err))
}
