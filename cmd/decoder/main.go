// Command decoder reads a local dailybar CSV file or scid binary file and
// prints its decoded rows in human-readable form, for debugging files
// pulled off the bridge without standing up the full MDIC process.
//
// Usage:
//
//	decoder -symbol NQZ27-CME daily/NQZ27-CME.csv        # autodetects CSV
//	decoder -symbol NQZ27-CME -mode scid intraday/NQZ27-CME/20260101.scid
//	decoder -symbol NQZ27-CME -hex intraday/NQZ27-CME/20260101.scid
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/minhos/mdic/internal/dailybar"
	"github.com/minhos/mdic/internal/scid"
)

func main() {
	symbol := flag.String("symbol", "", "contract symbol the file belongs to, e.g. NQZ27-CME")
	mode := flag.String("mode", "", "dailybar | scid (default: inferred from file extension)")
	showHex := flag.Bool("hex", false, "also print a hex dump of the file header")
	flag.Parse()

	log.SetFlags(0)

	if *symbol == "" {
		log.Fatal("error: -symbol is required")
	}
	if flag.NArg() != 1 {
		log.Fatal("error: exactly one file argument is required")
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("error: reading %s: %v", path, err)
	}

	m := *mode
	if m == "" {
		m = inferMode(path)
	}

	switch m {
	case "dailybar":
		dumpDailyBar(*symbol, data)
	case "scid":
		dumpSCID(*symbol, data, *showHex)
	default:
		log.Fatalf("error: cannot infer mode for %s, pass -mode dailybar|scid", path)
	}
}

func inferMode(path string) string {
	switch {
	case strings.HasSuffix(path, ".csv"):
		return "dailybar"
	case strings.HasSuffix(path, ".scid"):
		return "scid"
	default:
		return ""
	}
}

func dumpDailyBar(symbol string, data []byte) {
	bars, warnings, err := dailybar.Decode(symbol, data)
	if err != nil {
		log.Fatalf("error: decoding dailybar: %v", err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}
	fmt.Printf("%-10s %10s %10s %10s %10s %10s\n", "date", "open", "high", "low", "close", "volume")
	for _, b := range bars {
		fmt.Printf("%-10s %10s %10s %10s %10s %10d\n",
			b.Date.Format("2006-01-02"), b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume)
	}
	fmt.Printf("%d bar(s), %d warning(s)\n", len(bars), len(warnings))
}

func dumpSCID(symbol string, data []byte, showHex bool) {
	header, records, warnings, err := scid.DecodeRecords(data)
	if err != nil {
		log.Fatalf("error: decoding scid: %v", err)
	}
	if showHex {
		printHex(data[:min(56, len(data))])
	}
	fmt.Printf("header: epoch_base=%s\n", header.EpochBase.Format("2006-01-02T15:04:05.000000Z"))
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}

	var ticks, bars int
	for _, r := range records {
		if r.IsTick {
			ticks++
			t := r.ToTick(symbol)
			fmt.Printf("TICK  ts=%d price=%s bid=%s ask=%s size=%d trades=%d\n",
				t.TimestampUs, t.Price.String(), t.Bid.String(), t.Ask.String(), t.Size, t.TradeCount)
		} else {
			bars++
			b := r.ToBar()
			fmt.Printf("BAR   open=%s high=%s low=%s close=%s volume=%d\n",
				b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume)
		}
	}
	fmt.Printf("%d record(s): %d tick(s), %d bar(s), %d warning(s)\n", len(records), ticks, bars, len(warnings))
}

func printHex(data []byte) {
	var sb strings.Builder
	sb.WriteString("hex: ")
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n     ")
		}
		fmt.Fprintf(&sb, "%02x ", b)
	}
	fmt.Println(sb.String())
}
