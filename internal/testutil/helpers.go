// Package testutil provides shared test helpers for the saf project.
// Import this in test files to avoid duplicating raw event builders.
package testutil

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

// T0 is a fixed reference time for event timestamps.
var T0 = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

// StartEvent builds a salt/job/<jid>/new event.
func StartEvent(jid, fun string, at time.Time, minions ...string) types.RawEvent {
	list := make([]any, len(minions))
	for i, m := range minions {
		list[i] = m
	}
	return types.RawEvent{
		Tag: "salt/job/" + jid + "/new",
		Data: map[string]any{
			"_stamp":  stamp(at),
			"jid":     jid,
			"fun":     fun,
			"minions": list,
		},
	}
}

// ReturnEvent builds a salt/job/<jid>/ret/<minion> event. Extra data keys are
// merged into the payload.
func ReturnEvent(jid, minion string, at time.Time, extra map[string]any) types.RawEvent {
	data := map[string]any{
		"_stamp":  stamp(at),
		"jid":     jid,
		"id":      minion,
		"retcode": 0,
		"success": true,
	}
	for k, v := range extra {
		data[k] = v
	}
	return types.RawEvent{
		Tag:  "salt/job/" + jid + "/ret/" + minion,
		Data: data,
	}
}

// GrainsEvent builds a saf/grains/<minion> event.
func GrainsEvent(minion string, grains map[string]string) types.RawEvent {
	data := make(map[string]any, len(grains))
	for k, v := range grains {
		data[k] = v
	}
	return types.RawEvent{
		Tag:  "saf/grains/" + minion,
		Data: data,
	}
}

// WriteJSONL writes events as JSON lines to a temp file and returns its path.
func WriteJSONL(t *testing.T, events ...types.RawEvent) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "events-*.jsonl")
	require.NoError(t, err)
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}
	return f.Name()
}

func stamp(at time.Time) string {
	return at.UTC().Format("2006-01-02T15:04:05.000000")
}
