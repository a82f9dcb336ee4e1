package types

import "time"

const rfc3339Nano = time.RFC3339Nano

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(rfc3339Nano, s)
}
