package db

import (
	"time"

	"github.com/pkg/errors"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Time scans timestamps from drivers that return either time.Time or text.
type Time struct {
	Time  time.Time
	Valid bool
}

func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return errors.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *Time) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return errors.Errorf("unrecognized timestamp %q", s)
}
