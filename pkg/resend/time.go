package resend

import (
	"fmt"
	"strconv"
	"time"
)

// resendTimeLayouts are the timestamp layouts Resend emits. REST responses
// use RFC 3339 while webhook payloads use a Postgres-style layout.
var resendTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
}

// ResendTime wraps time.Time to accept every timestamp format Resend emits.
type ResendTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler. Null and empty values leave the
// zero time in place.
func (t *ResendTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("resend timestamp is not a JSON string: %w", err)
	}
	if s == "" {
		return nil
	}

	for _, layout := range resendTimeLayouts {
		if parsed, parseErr := time.Parse(layout, s); parseErr == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported resend timestamp %q", s)
}

// MarshalJSON implements json.Marshaler using RFC 3339.
func (t ResendTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.Format(time.RFC3339Nano))), nil
}
