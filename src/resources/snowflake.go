package resources

import (
	"fmt"
	"strconv"
	"time"
)

// DiscordEpoch is the first millisecond of 2015, the zero point of snowflake timestamps.
const DiscordEpoch int64 = 1420070400000

// Snowflake is a Discord id. It travels as a JSON string.
type Snowflake string

func ParseSnowflake(s string) (Snowflake, error) {
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return "", fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return Snowflake(s), nil
}

func (s Snowflake) Uint64() uint64 {
	v, _ := strconv.ParseUint(string(s), 10, 64)
	return v
}

// Time returns the creation time encoded in the id.
func (s Snowflake) Time() time.Time {
	ms := int64(s.Uint64()>>22) + DiscordEpoch
	return time.UnixMilli(ms)
}

func (s Snowflake) String() string {
	return string(s)
}
