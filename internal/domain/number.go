package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// FlexNumber accepts a JSON number, a numeric string, null or nothing.
// Values that are present but not numeric decode without error and are
// flagged Invalid.
type FlexNumber struct {
	Value   float64
	Present bool
	Invalid bool
}

func Number(v float64) FlexNumber {
	return FlexNumber{Value: v, Present: true}
}

func (n *FlexNumber) UnmarshalJSON(data []byte) error {
	*n = FlexNumber{}
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		text = strings.TrimSpace(s)
		if text == "" {
			return nil
		}
	}

	n.Present = true
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		n.Invalid = true
		return nil
	}
	n.Value = v
	return nil
}

func (n FlexNumber) MarshalJSON() ([]byte, error) {
	if !n.Present || n.Invalid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Float is the value used for ledger storage and statistics: absent and
// non-numeric inputs count as zero.
func (n FlexNumber) Float() float64 {
	if !n.Present || n.Invalid {
		return 0
	}
	return n.Value
}

func (n FlexNumber) Valid() bool {
	return n.Present && !n.Invalid
}

var ErrInvalidDate = errors.New("invalid date format")

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseLedgerDate parses a client supplied ledger date. Values without an
// offset are read in loc.
func ParseLedgerDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range dateLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, value)
		} else {
			t, err = time.ParseInLocation(layout, value, loc)
		}
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// DayRange returns the half-open interval [day 00:00, next day 00:00) in loc
// for a YYYY-MM-DD (or any ParseLedgerDate) value.
func DayRange(raw string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := ParseLedgerDate(raw, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC(), nil
}
