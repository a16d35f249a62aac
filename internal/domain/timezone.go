package domain

import (
	"strings"
	"time"
	_ "time/tzdata"
)

var localLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduledFor разбирает время публикации и возвращает его в UTC.
// Значение со смещением (RFC 3339) берётся как есть, время без смещения
// трактуется в часовом поясе timezone, а при пустом timezone — в UTC.
func ParseScheduledFor(raw, timezone string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	loc := time.UTC
	if strings.TrimSpace(timezone) != "" {
		name, err := NormalizeTimezone(timezone)
		if err != nil {
			return time.Time{}, err
		}
		loc, err = time.LoadLocation(name)
		if err != nil {
			return time.Time{}, ErrInvalidTimezone
		}
	}
	var lastErr error
	for _, layout := range localLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// NormalizeTimezone приводит название часового пояса к виду, понятному time.LoadLocation.
func NormalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
