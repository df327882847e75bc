package gateway

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCloseCodes(t *testing.T) {
	table := DefaultCloseCodes()
	require.Equal(t, APIVersion, table.Version)

	tests := []struct {
		code   int
		name   string
		action CloseAction
	}{
		{4000, "unknown_error", CloseResume},
		{4001, "unknown_opcode", CloseResume},
		{4002, "decode_error", CloseResume},
		{4003, "not_authenticated", CloseReidentify},
		{4004, "authentication_failed", CloseFatal},
		{4005, "already_authenticated", CloseResume},
		{4007, "invalid_seq", CloseReidentify},
		{4008, "rate_limited", CloseResume},
		{4009, "session_timed_out", CloseReidentify},
		{4010, "invalid_shard", CloseFatal},
		{4011, "sharding_required", CloseFatal},
		{4012, "invalid_api_version", CloseFatal},
		{4013, "invalid_intents", CloseFatal},
		{4014, "disallowed_intents", CloseFatal},
	}
	for _, tt := range tests {
		entry := table.Classify(tt.code)
		require.Equal(t, tt.name, entry.Name, "code %d", tt.code)
		require.Equal(t, tt.action, entry.Action, "code %d", tt.code)
	}
}

func TestClassifyUnlistedCode(t *testing.T) {
	table := DefaultCloseCodes()
	for _, code := range []int{1000, 1001, 1006, 4006, 4999} {
		entry := table.Classify(code)
		require.Equal(t, "unlisted", entry.Name)
		require.Equal(t, CloseResume, entry.Action)
		require.Equal(t, code, entry.Code)
	}
}

func TestParseCloseCodes(t *testing.T) {
	table, err := ParseCloseCodes([]byte(`
version: 11
default: reidentify
codes:
  - {code: 4020, name: new_fatal, action: fatal}
`))
	require.NoError(t, err)
	require.Equal(t, 11, table.Version)
	require.Equal(t, CloseFatal, table.Classify(4020).Action)
	require.Equal(t, CloseReidentify, table.Classify(4000).Action)
}

func TestParseCloseCodesRejectsBadTables(t *testing.T) {
	tests := map[string]string{
		"bad action":  "codes:\n  - {code: 4000, name: x, action: explode}\n",
		"bad default": "default: shrug\n",
		"duplicate":   "codes:\n  - {code: 4000, name: a, action: resume}\n  - {code: 4000, name: b, action: fatal}\n",
		"not yaml":    "codes: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCloseCodes([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadCloseCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("codes:\n  - {code: 4004, name: auth, action: resume}\n"), 0o600))

	table, err := LoadCloseCodes(path)
	require.NoError(t, err)
	require.Equal(t, CloseResume, table.Classify(4004).Action)

	_, err = LoadCloseCodes(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
