package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const expiryLayout = "2006-01-02"

// Expiry is a subscription end date stored as YYYY-MM-DD.
// The empty value means no subscription; ExpiryForever never lapses.
type Expiry string

const (
	ExpiryNone    Expiry = ""
	ExpiryForever Expiry = "9999-12-31"
)

func ExpiryFromTime(t time.Time) Expiry {
	return Expiry(t.UTC().Format(expiryLayout))
}

func ParseExpiry(s string) (Expiry, error) {
	if s == "" {
		return ExpiryNone, nil
	}
	_, err := time.Parse(expiryLayout, s)
	if err != nil {
		return ExpiryNone, fmt.Errorf("invalid expiry date %q: %w", s, err)
	}
	return Expiry(s), nil
}

func (e Expiry) IsSet() bool {
	return e != ExpiryNone
}

func (e Expiry) IsForever() bool {
	return e == ExpiryForever
}

// Time returns midnight UTC of the expiry date. ok is false for ExpiryNone or a malformed value.
func (e Expiry) Time() (time.Time, bool) {
	if !e.IsSet() {
		return time.Time{}, false
	}
	t, err := time.Parse(expiryLayout, string(e))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LapsedAt reports whether the expiry date is strictly before the day containing now.
func (e Expiry) LapsedAt(now time.Time) bool {
	if !e.IsSet() || e.IsForever() {
		return false
	}
	return string(e) < string(ExpiryFromTime(now))
}

// StringList is an ordered list persisted as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for StringList: %T", src)
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}
	var out []string
	err := json.Unmarshal(raw, &out)
	if err != nil {
		return fmt.Errorf("failed to decode string list: %w", err)
	}
	*l = out
	return nil
}
