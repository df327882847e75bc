package resources

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnowflakeTime(t *testing.T) {
	id, err := ParseSnowflake("175928847299117063")
	require.NoError(t, err)
	require.Equal(t, uint64(175928847299117063), id.Uint64())
	require.Equal(t, time.UnixMilli(1462015105796).UTC(), id.Time().UTC())
}

func TestParseSnowflakeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "abc", "-1", "1.5"} {
		_, err := ParseSnowflake(raw)
		require.Error(t, err, raw)
	}
}

func TestSnowflakeJSON(t *testing.T) {
	var guild UnavailableGuild
	require.NoError(t, json.Unmarshal([]byte(`{"id":"41771983423143937","unavailable":true}`), &guild))
	require.Equal(t, Snowflake("41771983423143937"), guild.ID)
	require.NotNil(t, guild.Unavailable)
	require.True(t, *guild.Unavailable)

	var left UnavailableGuild
	require.NoError(t, json.Unmarshal([]byte(`{"id":"41771983423143937"}`), &left))
	require.Nil(t, left.Unavailable)
}
