package backtest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBars_ValidCSV(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n" +
		"2026-01-02T09:30:00Z,100,101,99,100.5,1000\n" +
		"2026-01-02T09:31:00Z,100.5,102,100,101.5,1200\n"

	bars, err := ParseBars(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 100.0, bars[0].Open)
	assert.Equal(t, int64(1200), bars[1].Volume)
}

func TestParseBars_AlternateTimestampForm(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n" +
		"2026-01-02 09:30:00,100,101,99,100.5,1000\n"
	bars, err := ParseBars(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, bars, 1)
}

func TestParseBars_RejectsBadHeader(t *testing.T) {
	csv := "time,o,h,l,c,v\n2026-01-02T09:30:00Z,1,2,0,1,1\n"
	_, err := ParseBars(strings.NewReader(csv))
	require.Error(t, err)
}

func TestParseBars_RejectsOutOfOrderTimestamps(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n" +
		"2026-01-02T09:31:00Z,100,101,99,100.5,1000\n" +
		"2026-01-02T09:30:00Z,100.5,102,100,101.5,1200\n"
	_, err := ParseBars(strings.NewReader(csv))
	require.Error(t, err)
}

func TestParseBars_RejectsInvalidOHLC(t *testing.T) {
	csv := "timestamp,open,high,low,close,volume\n" +
		"2026-01-02T09:30:00Z,105,101,99,100.5,1000\n"
	_, err := ParseBars(strings.NewReader(csv))
	require.Error(t, err)
}
