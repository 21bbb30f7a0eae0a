package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/churngraph/internal/domain"
)

var errBlank = errors.New("value is blank")

var currencyReplacer = strings.NewReplacer("$", "", ",", "", " ", "", "USD", "", "usd", "")

// ParseCurrency converts a currency token ("$1,234.56", "-$5", "$-77.00",
// "(12.50)") to integer cents, rounding half away from zero.
func ParseCurrency(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errBlank
	}
	negative := false
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		negative = true
		value = value[1 : len(value)-1]
	}
	value = currencyReplacer.Replace(value)
	if strings.HasPrefix(value, "-") {
		negative = !negative
		value = value[1:]
	}
	if value == "" {
		return 0, fmt.Errorf("no digits in currency value")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse currency: %w", err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("misplaced sign in currency value")
	}
	cents := d.Shift(2).Round(0).IntPart()
	if negative {
		cents = -cents
	}
	return cents, nil
}

// CentsToUnits converts cents to a float amount in currency units.
func CentsToUnits(cents int64) float64 {
	return decimal.New(cents, -2).InexactFloat64()
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
	"01/2006",
}

// ParseDate parses the supported date layouts into a UTC timestamp.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errBlank
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// ParseBool maps yes/no style tokens to booleans.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "t", "1":
		return true, nil
	case "no", "n", "false", "f", "0":
		return false, nil
	case "":
		return false, errBlank
	default:
		return false, fmt.Errorf("unrecognised boolean token %q", value)
	}
}

// ParseChannel maps the use_chip column to a channel.
func ParseChannel(value string) (domain.Channel, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.TrimSuffix(v, " transaction")
	switch v {
	case "":
		return domain.ChannelUnknown, errBlank
	case "swipe":
		return domain.ChannelSwipe, nil
	case "chip":
		return domain.ChannelChip, nil
	case "online":
		return domain.ChannelOnline, nil
	default:
		return domain.ChannelUnknown, fmt.Errorf("unrecognised channel %q", value)
	}
}

// ParseID parses an identity key.
func ParseID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errBlank
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier %q", value)
	}
	return id, nil
}

func optionalInt(value string) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	return &v, nil
}

func optionalInt64(value string) (*int64, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	v, err := ParseID(value)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalFloat(value string) (*float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", value)
	}
	return &v, nil
}

func optionalCurrency(value string) (*float64, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	cents, err := ParseCurrency(value)
	if err != nil {
		return nil, err
	}
	v := CentsToUnits(cents)
	return &v, nil
}

func optionalDate(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := ParseDate(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalBool(value string) (bool, error) {
	if strings.TrimSpace(value) == "" {
		return false, nil
	}
	return ParseBool(value)
}

func splitList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
