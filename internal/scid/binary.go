// Package scid implements the Intraday Tick Decoder (C4): a fixed-record
// binary format with a 56-byte file header and 40-byte little-endian
// records, used for both raw ticks and aggregated intraday bars.
package scid

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
)

const (
	headerLength = 56
	recordLength = 40

	magicOffset = 0
	magicLength = 4
	epochOffset = 4 // int64 microseconds-since-Unix-epoch base stored in the header
)

// recognizedMagic is the 4-byte file signature this decoder accepts.
var recognizedMagic = [4]byte{'M', 'D', 'I', 'C'}

// Header is the decoded 56-byte file header.
type Header struct {
	Magic     [4]byte
	EpochBase time.Time // base instant record timestamps are relative to
}

// Record is one decoded 40-byte record, interpreted either as a Tick (when
// Open == 0, per spec.md §4.4's sentinel convention) or an aggregate bar.
type Record struct {
	IsTick           bool
	TimestampUs      int64
	Open, High, Low, Close float64
	NumTrades        uint32
	TotalVolume      uint32
	BidVolume        uint32
	AskVolume        uint32
}

// DecodeHeader parses and validates the file header.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < headerLength {
		return Header{}, mdicerr.Decode("scid.DecodeHeader", fmt.Errorf("input shorter than header (%d < %d)", len(data), headerLength))
	}
	var h Header
	copy(h.Magic[:], data[magicOffset:magicOffset+magicLength])
	if h.Magic != recognizedMagic {
		return Header{}, mdicerr.Decode("scid.DecodeHeader", fmt.Errorf("unrecognized magic %q", h.Magic))
	}
	epochUs := int64(binary.LittleEndian.Uint64(data[epochOffset : epochOffset+8]))
	h.EpochBase = time.UnixMicro(epochUs).UTC()
	return h, nil
}

// DecodeRecords decodes every full 40-byte record following the header. A
// partial trailing record is discarded and reported as a warning rather
// than an error, per spec.md §4.4.
func DecodeRecords(data []byte) (Header, []Record, []error, error) {
	header, err := DecodeHeader(data)
	if err != nil {
		return Header{}, nil, nil, err
	}

	body := data[headerLength:]
	n := len(body) / recordLength
	trailing := len(body) % recordLength

	var warnings []error
	if trailing != 0 {
		warnings = append(warnings, mdicerr.DecodeWarnf("scid.DecodeRecords",
			"discarding %d trailing bytes (partial record)", trailing))
	}

	records := make([]Record, n)
	for i := 0; i < n; i++ {
		rec, err := decodeOneRecord(body[i*recordLength:(i+1)*recordLength], header.EpochBase)
		if err != nil {
			return header, records[:i], warnings, mdicerr.Decode("scid.DecodeRecords", err)
		}
		records[i] = rec
	}
	return header, records, warnings, nil
}

// decodeOneRecord decodes a record whose on-wire timestamp is microseconds
// relative to epochBase (spec.md §4.4), returning Record.TimestampUs as an
// absolute Unix microsecond value.
func decodeOneRecord(b []byte, epochBase time.Time) (Record, error) {
	if len(b) != recordLength {
		return Record{}, fmt.Errorf("record length %d != %d", len(b), recordLength)
	}
	offsetUs := int64(binary.LittleEndian.Uint64(b[0:8]))
	tsUs := epochBase.UnixMicro() + offsetUs
	open := float64(math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])))
	high := float64(math.Float32frombits(binary.LittleEndian.Uint32(b[12:16])))
	low := float64(math.Float32frombits(binary.LittleEndian.Uint32(b[16:20])))
	closePrice := float64(math.Float32frombits(binary.LittleEndian.Uint32(b[20:24])))
	numTrades := binary.LittleEndian.Uint32(b[24:28])
	totalVolume := binary.LittleEndian.Uint32(b[28:32])
	bidVolume := binary.LittleEndian.Uint32(b[32:36])
	askVolume := binary.LittleEndian.Uint32(b[36:40])

	return Record{
		IsTick:      open == 0.0,
		TimestampUs: tsUs,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closePrice,
		NumTrades:   numTrades,
		TotalVolume: totalVolume,
		BidVolume:   bidVolume,
		AskVolume:   askVolume,
	}, nil
}

// EncodeHeader renders a Header back to its 56-byte wire form; the
// remaining header bytes beyond magic+epoch are reserved and left zero.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, headerLength)
	copy(buf[magicOffset:magicOffset+magicLength], h.Magic[:])
	binary.LittleEndian.PutUint64(buf[epochOffset:epochOffset+8], uint64(h.EpochBase.UnixMicro()))
	return buf
}

// EncodeRecord renders a Record back to its 40-byte wire form, for the
// round-trip property required by spec.md §8. r.TimestampUs is an absolute
// Unix microsecond value; epochBase must match the Header it will be
// written alongside so the on-wire offset decodes back to the same value.
func EncodeRecord(r Record, epochBase time.Time) []byte {
	buf := make([]byte, recordLength)
	offsetUs := r.TimestampUs - epochBase.UnixMicro()
	binary.LittleEndian.PutUint64(buf[0:8], uint64(offsetUs))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(r.Open)))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(float32(r.High)))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(float32(r.Low)))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(float32(r.Close)))
	binary.LittleEndian.PutUint32(buf[24:28], r.NumTrades)
	binary.LittleEndian.PutUint32(buf[28:32], r.TotalVolume)
	binary.LittleEndian.PutUint32(buf[32:36], r.BidVolume)
	binary.LittleEndian.PutUint32(buf[36:40], r.AskVolume)
	return buf
}

// ToTick converts a tick-convention Record (Open == 0) into a model.Tick.
// High holds ask_price_at_trade, Low holds bid_price_at_trade, Close holds
// trade_price, per spec.md §4.4's tick-record convention.
func (r Record) ToTick(symbol string) model.Tick {
	return model.Tick{
		Symbol:      symbol,
		TimestampUs: r.TimestampUs,
		Price:       decimal.NewFromFloat(r.Close),
		Ask:         decimal.NewFromFloat(r.High),
		Bid:         decimal.NewFromFloat(r.Low),
		Size:        r.TotalVolume,
		TradeCount:  int64(r.NumTrades),
	}
}

// ToBar converts an aggregate-convention Record into a model.DailyBar
// anchored at its own (epoch-adjusted) timestamp.
func (r Record) ToBar() model.DailyBar {
	return model.DailyBar{
		Date:   time.UnixMicro(r.TimestampUs).UTC(),
		Open:   decimal.NewFromFloat(r.Open),
		High:   decimal.NewFromFloat(r.High),
		Low:    decimal.NewFromFloat(r.Low),
		Close:  decimal.NewFromFloat(r.Close),
		Volume: int64(r.TotalVolume),
	}
}
