// Package dailybar implements the Daily-Bar Decoder (C3): CSV
// encoding/decoding of daily OHLCV records.
package dailybar

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
)

const dateLayout = "2006/01/02"

// maxMalformedRatio is the fraction of rows that may be skipped with a
// DecodeWarning before the whole stream is rejected as a DecodeError.
const maxMalformedRatio = 0.05

// Decode parses a CSV byte stream per spec.md §4.3: a header line followed
// by `date, open, high, low, close, volume, open_interest` rows, dates in
// YYYY/MM/DD. Malformed rows are skipped; if skipped rows exceed 5% of the
// total, Decode returns a DecodeError instead of a partial result.
func Decode(symbol string, data []byte) ([]model.DailyBar, []error, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, mdicerr.Decode("dailybar.Decode", fmt.Errorf("empty input")).WithSymbol(symbol)
	}
	// header line is discarded; column order is fixed by spec.

	var bars []model.DailyBar
	var warnings []error
	total := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		total++
		bar, err := parseRow(line)
		if err != nil {
			warnings = append(warnings, mdicerr.DecodeWarnf("dailybar.Decode", "row %d: %v", total, err).WithSymbol(symbol))
			continue
		}
		if err := bar.Validate(); err != nil {
			warnings = append(warnings, mdicerr.DecodeWarnf("dailybar.Decode", "row %d: %v", total, err).WithSymbol(symbol))
			continue
		}
		bars = append(bars, bar)
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, mdicerr.Decode("dailybar.Decode", err).WithSymbol(symbol)
	}

	if total > 0 && float64(len(warnings))/float64(total) > maxMalformedRatio {
		return nil, warnings, mdicerr.Decode("dailybar.Decode",
			fmt.Errorf("%d/%d rows malformed, exceeds %.0f%% threshold", len(warnings), total, maxMalformedRatio*100)).WithSymbol(symbol)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, warnings, nil
}

func parseRow(line string) (model.DailyBar, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return model.DailyBar{}, fmt.Errorf("expected at least 6 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	date, err := time.Parse(dateLayout, fields[0])
	if err != nil {
		return model.DailyBar{}, fmt.Errorf("invalid date %q: %w", fields[0], err)
	}

	open, err := decimal.NewFromString(fields[1])
	if err != nil {
		return model.DailyBar{}, fmt.Errorf("invalid open %q: %w", fields[1], err)
	}
	high, err := decimal.NewFromString(fields[2])
	if err != nil {
		return model.DailyBar{}, fmt.Errorf("invalid high %q: %w", fields[2], err)
	}
	low, err := decimal.NewFromString(fields[3])
	if err != nil {
		return model.DailyBar{}, fmt.Errorf("invalid low %q: %w", fields[3], err)
	}
	closePrice, err := decimal.NewFromString(fields[4])
	if err != nil {
		return model.DailyBar{}, fmt.Errorf("invalid close %q: %w", fields[4], err)
	}
	volume, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return model.DailyBar{}, fmt.Errorf("invalid volume %q: %w", fields[5], err)
	}

	bar := model.DailyBar{
		Date:   date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}

	if len(fields) >= 7 && fields[6] != "" {
		oi, err := strconv.ParseInt(fields[6], 10, 64)
		if err != nil {
			return model.DailyBar{}, fmt.Errorf("invalid open_interest %q: %w", fields[6], err)
		}
		bar.OpenInterest = &oi
	}

	return bar, nil
}

// Encode renders bars back to the CSV format Decode accepts, for the
// round-trip property required by spec.md §8: decode(encode(bars)) == bars.
func Encode(bars []model.DailyBar) []byte {
	var buf bytes.Buffer
	buf.WriteString("date,open,high,low,close,volume,open_interest\n")
	for _, b := range bars {
		oi := ""
		if b.OpenInterest != nil {
			oi = strconv.FormatInt(*b.OpenInterest, 10)
		}
		fmt.Fprintf(&buf, "%s,%s,%s,%s,%s,%d,%s\n",
			b.Date.Format(dateLayout), b.Open, b.High, b.Low, b.Close, b.Volume, oi)
	}
	return buf.Bytes()
}
