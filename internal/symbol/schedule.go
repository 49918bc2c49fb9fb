package symbol

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhos/mdic/internal/model"
)

const defaultPreRollBusinessDays = 10

func errNoActiveContract(root string) error {
	return fmt.Errorf("no active contract: clock is at or after the last scheduled rollover_date for root %q", root)
}

// buildSchedule turns a declarative RootConfig row into a model.RolloverSchedule,
// computing each contract's rollover_date as expiration_date minus N business
// days (spec.md §4.1).
func buildSchedule(c RootConfig) (model.RolloverSchedule, int, error) {
	if c.Root == "" {
		return model.RolloverSchedule{}, 0, fmt.Errorf("root config missing root")
	}
	if len(c.Expirations) == 0 {
		return model.RolloverSchedule{}, 0, fmt.Errorf("root %q: no expiration_dates configured", c.Root)
	}

	tickSize, err := decimal.NewFromString(c.TickSize)
	if err != nil {
		return model.RolloverSchedule{}, 0, fmt.Errorf("root %q: invalid tick_size %q: %w", c.Root, c.TickSize, err)
	}
	multiplier, err := decimal.NewFromString(c.Multiplier)
	if err != nil {
		return model.RolloverSchedule{}, 0, fmt.Errorf("root %q: invalid multiplier %q: %w", c.Root, c.Multiplier, err)
	}

	preRoll := defaultPreRollBusinessDays
	if c.PreRollBusinessDays != nil {
		preRoll = *c.PreRollBusinessDays
	}

	type parsed struct {
		expiry time.Time
		month  model.MonthCode
	}
	var exps []parsed
	for i, raw := range c.Expirations {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return model.RolloverSchedule{}, 0, fmt.Errorf("root %q: expiration[%d] %q: %w", c.Root, i, raw, err)
		}
		var month model.MonthCode
		if i < len(c.Months) && len(c.Months[i]) == 1 {
			month = model.MonthCode(c.Months[i][0])
		} else {
			month = model.MonthCode("HMUZ"[(t.Month()-1)/3])
		}
		exps = append(exps, parsed{expiry: t, month: month})
	}

	entries := make([]model.RolloverEntry, 0, len(exps))
	for i, e := range exps {
		contract := model.Contract{
			Root:       c.Root,
			Exchange:   c.Exchange,
			Month:      e.month,
			Year:       e.expiry.Year() % 100,
			TickSize:   tickSize,
			Multiplier: multiplier,
			AssetClass: model.AssetClass(c.AssetClass),
		}
		rolloverDate := subtractBusinessDays(e.expiry, preRoll)

		var effectiveFrom time.Time
		if i == 0 {
			effectiveFrom = time.Time{} // open-ended start; At() treats zero Start as always-before
		} else {
			effectiveFrom = subtractBusinessDays(exps[i-1].expiry, preRoll)
		}

		entries = append(entries, model.RolloverEntry{
			Contract:      contract,
			EffectiveFrom: effectiveFrom,
			ExpiresAt:     e.expiry,
			RolloverAt:    rolloverDate,
		})
	}

	return model.RolloverSchedule{Root: c.Root, Entries: entries}, c.Priority, nil
}

// subtractBusinessDays walks back n business days (Mon-Fri) from t.
func subtractBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, -1)
		if t.Weekday() != time.Saturday && t.Weekday() != time.Sunday {
			n--
		}
	}
	return t
}
