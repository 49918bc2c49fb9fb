package gapfill

import (
	"fmt"
	"time"
)

// PathResolver maps a (symbol, timeframe) gap to the remote file the
// Bridge should read to repair it. Deployments vary in how the bridge's
// data root is laid out, so this is injected rather than hard-coded.
type PathResolver interface {
	DailyBarPath(symbol string) string
	IntradayPath(symbol string, day time.Time) string
}

// defaultPaths matches the layout the teacher's `cmd/decoder` tool assumes
// for locally generated sample files: one CSV per symbol for daily bars,
// one `.scid` file per symbol per calendar day for intraday data.
type defaultPaths struct {
	root string
}

// DefaultPathResolver builds a PathResolver rooted at root (an allow-listed
// prefix on the remote bridge).
func DefaultPathResolver(root string) PathResolver {
	return defaultPaths{root: root}
}

func (p defaultPaths) DailyBarPath(symbol string) string {
	return fmt.Sprintf("%s/daily/%s.csv", p.root, symbol)
}

func (p defaultPaths) IntradayPath(symbol string, day time.Time) string {
	return fmt.Sprintf("%s/intraday/%s/%s.scid", p.root, symbol, day.UTC().Format("20060102"))
}
