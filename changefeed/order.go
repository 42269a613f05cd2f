package changefeed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/verdant/ordernotify/notify"
)

// Layouts accepted for timestamp columns, most specific first
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

// ParseOrder extracts {id, amount, created_at} from an inserted orders row.
// Numeric timestamps are read as Unix milliseconds; timestamps without a zone are UTC.
func ParseOrder(ev RowEvent) (notify.Order, error) {
	if ev.Record == nil {
		return notify.Order{}, fmt.Errorf("row has no values")
	}

	id, err := int64Column(ev.Record, "id")
	if err != nil {
		return notify.Order{}, err
	}

	amount, err := floatColumn(ev.Record, "amount")
	if err != nil {
		return notify.Order{}, err
	}

	createdAt, err := timeColumn(ev.Record, "created_at")
	if err != nil {
		return notify.Order{}, err
	}

	return notify.Order{ID: id, Amount: amount, CreatedAt: createdAt}, nil
}

// OrderHandler adapts an order sink into a Callback. Rows that cannot be
// read as orders are logged and skipped.
func OrderHandler(onOrder func(notify.Order)) Callback {
	return func(ev RowEvent) {
		order, err := ParseOrder(ev)
		if err != nil {
			log.Warn().
				Err(err).
				Str("schema", ev.Schema).
				Str("table", ev.Table).
				Msg("Skipping change event that is not a valid order row")
			return
		}
		onOrder(order)
	}
}

func int64Column(row map[string]interface{}, name string) (int64, error) {
	v, ok := row[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing column %s", name)
	}

	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		return 0, fmt.Errorf("column %s: %q is not an integer", name, n.String())
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("column %s: %v is not an integer", name, n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("column %s: unexpected type %T", name, v)
	}
}

func floatColumn(row map[string]interface{}, name string) (float64, error) {
	v, ok := row[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing column %s", name)
	}

	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return f, nil
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		// numeric columns arrive as strings to keep precision
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("column %s: unexpected type %T", name, v)
	}
}

func timeColumn(row map[string]interface{}, name string) (time.Time, error) {
	v, ok := row[name]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("missing column %s", name)
	}

	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		ts, err := parseTimestamp(t)
		if err != nil {
			return time.Time{}, fmt.Errorf("column %s: %w", name, err)
		}
		return ts, nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("column %s: %w", name, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("column %s: unexpected type %T", name, v)
	}
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
