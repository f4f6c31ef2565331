package discord

import (
	"strconv"
	"time"
)

// Epoch is the millisecond timestamp the gateway's ID scheme counts from.
const Epoch = 1420070400000

// Snowflake is a 64-bit identifier with an embedded creation timestamp.
// On the wire it travels as a JSON string because 64-bit integers do not
// survive JSON number parsing in every client — we accept both forms when
// decoding and always emit the string form.
type Snowflake uint64

// ParseSnowflake converts the canonical string form into a Snowflake.
func ParseSnowflake(s string) (Snowflake, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Snowflake(n), nil
}

// IsZero reports whether the snowflake is unset.
// A zero snowflake never identifies a real entity.
func (s Snowflake) IsZero() bool { return s == 0 }

// Time extracts the creation timestamp embedded in the high 42 bits.
func (s Snowflake) Time() time.Time {
	ms := int64(s>>22) + Epoch
	return time.UnixMilli(ms)
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// MarshalJSON emits the string form, always.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts a string, a bare number, or null (which leaves
// the snowflake zero). The service emits strings but some embedded
// payloads carry numbers.
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = 0
		return nil
	}
	str := string(data)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	if str == "" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return err
	}
	*s = Snowflake(n)
	return nil
}
