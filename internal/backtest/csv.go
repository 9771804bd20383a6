package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// expectedHeader is the bar CSV header contract (§6).
var expectedHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

// timestampLayouts are the two accepted timestamp spellings: ISO-8601
// (RFC3339) and a plain "YYYY-MM-DD HH:MM:SS" form.
var timestampLayouts = []string{time.RFC3339, "2006-01-02 15:04:05"}

// ReadBars loads a bar CSV from path, validating the header, per-bar OHLC
// invariant, and strictly ascending timestamps (§6).
func ReadBars(path string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: opening bar file: %w", err)
	}
	defer f.Close()
	return ParseBars(f)
}

// ParseBars reads bar rows from r, applying the same validation as ReadBars.
func ParseBars(r io.Reader) ([]models.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("backtest: reading header: %w", err)
	}
	if !headerMatches(header) {
		return nil, fmt.Errorf("backtest: unexpected header %v, want %v", header, expectedHeader)
	}

	var bars []models.Bar
	var prevTS time.Time
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: reading row %d: %w", len(bars)+2, err)
		}
		bar, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("backtest: row %d: %w", len(bars)+2, err)
		}
		if err := bar.Validate(); err != nil {
			return nil, fmt.Errorf("backtest: row %d: %w", len(bars)+2, err)
		}
		if len(bars) > 0 && !bar.Timestamp.After(prevTS) {
			return nil, fmt.Errorf("backtest: row %d: timestamp %s not strictly after previous %s", len(bars)+2, bar.Timestamp, prevTS)
		}
		bars = append(bars, bar)
		prevTS = bar.Timestamp
	}
	return bars, nil
}

func headerMatches(got []string) bool {
	if len(got) != len(expectedHeader) {
		return false
	}
	for i, h := range expectedHeader {
		if strings.ToLower(strings.TrimSpace(got[i])) != h {
			return false
		}
	}
	return true
}

func parseRow(row []string) (models.Bar, error) {
	if len(row) != len(expectedHeader) {
		return models.Bar{}, fmt.Errorf("expected %d columns, got %d", len(expectedHeader), len(row))
	}
	ts, err := parseTimestamp(row[0])
	if err != nil {
		return models.Bar{}, fmt.Errorf("timestamp: %w", err)
	}
	open, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("open: %w", err)
	}
	high, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("high: %w", err)
	}
	low, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("low: %w", err)
	}
	closePrice, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("close: %w", err)
	}
	volume, err := strconv.ParseInt(row[5], 10, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("volume: %w", err)
	}
	return models.Bar{
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var lastErr error
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q: %w", raw, lastErr)
}
