package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/s0undt3ch/salt-analytics-framework/internal/testutil"
	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

var t0 = testutil.T0

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func scenario(t *testing.T) string {
	t.Helper()
	return testutil.WriteJSONL(t,
		testutil.GrainsEvent("a", map[string]string{"os": "Debian"}),
		testutil.StartEvent("1", "test.ping", t0, "a", "b"),
		testutil.ReturnEvent("1", "a", t0.Add(time.Second), map[string]any{"return": true}),
		testutil.ReturnEvent("1", "b", t0.Add(2*time.Second), map[string]any{"return": true}),
		testutil.ReturnEvent("2", "a", t0.Add(3*time.Second), nil),
		types.RawEvent{Tag: "salt/auth", Data: map[string]any{"id": "a"}},
	)
}

// ---------------------------------------------------------------------------
// root
// ---------------------------------------------------------------------------

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()

	assert.Equal(t, "saf", cmd.Use)
	for _, name := range []string{"config", "output", "log-level"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "c", cmd.PersistentFlags().Lookup("config").Shorthand)
	assert.Equal(t, "o", cmd.PersistentFlags().Lookup("output").Shorthand)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"run", "replay", "classify", "version"})
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

// ---------------------------------------------------------------------------
// replay
// ---------------------------------------------------------------------------

func TestReplay_JSON(t *testing.T) {
	out, err := execute(t, "", "replay", scenario(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1, "b has no grains yet, so only a is emitted")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "1", rec["jid"])
	assert.Equal(t, "a", rec["minion_id"])
	assert.Equal(t, "test.ping", rec["fun"])
	assert.Equal(t, 1.0, rec["duration"])
	assert.Equal(t, map[string]any{"os": "Debian"}, rec["grains"])
}

func TestReplay_FlushPending(t *testing.T) {
	out, err := execute(t, "", "replay", "--flush-pending", scenario(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "b", rec["minion_id"])
	assert.Equal(t, map[string]any{}, rec["grains"])
}

func TestReplay_StateModeYAMLFromStdin(t *testing.T) {
	t.Setenv("SAF_CORRELATOR_MODE", "state")
	input := jsonLines(t,
		testutil.StartEvent("1", "state.apply", t0, "a"),
		testutil.ReturnEvent("1", "a", t0.Add(time.Second), nil),
		testutil.StartEvent("2", "test.ping", t0, "a"),
		testutil.ReturnEvent("2", "a", t0.Add(time.Second), nil),
	)

	out, err := execute(t, input, "replay", "-o", "yaml", "-")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "---\n"))
	assert.Equal(t, 1, strings.Count(out, "---\n"))

	var rec map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(strings.TrimPrefix(out, "---\n")), &rec))
	assert.Equal(t, "state.apply", rec["fun"])
	_, hasGrains := rec["grains"]
	assert.False(t, hasGrains)
}

func TestReplay_Errors(t *testing.T) {
	_, err := execute(t, "", "replay")
	require.Error(t, err)

	_, err = execute(t, "", "replay", "/does/not/exist.jsonl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open /does/not/exist.jsonl")

	_, err = execute(t, "", "replay", "-o", "table", scenario(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

// ---------------------------------------------------------------------------
// classify
// ---------------------------------------------------------------------------

func TestClassify_JSON(t *testing.T) {
	out, err := execute(t, "", "classify", scenario(t))
	require.NoError(t, err)

	var result ClassifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Events, 6)
	assert.Equal(t, map[string]int{
		"EnrichmentUpdated": 1,
		"JobStarted":        1,
		"JobCompleted":      3,
		"Unrelated":         1,
	}, result.Counts)

	start := result.Events[1]
	assert.Equal(t, "JobStarted", start.Kind)
	assert.Equal(t, "1", start.JobID)
	assert.Equal(t, []string{"a", "b"}, start.Minions)

	assert.Equal(t, "unknown tag", result.Events[5].Reason)
	assert.Equal(t, 1, result.Events[0].GrainCount)
}

func TestClassify_Table(t *testing.T) {
	out, err := execute(t, "", "classify", "-o", "table", scenario(t))
	require.NoError(t, err)

	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "test.ping -> a,b")
	assert.Contains(t, out, "unknown tag")
	assert.Contains(t, out, "JobCompleted:")
}

func TestClassify_UnknownFormat(t *testing.T) {
	_, err := execute(t, "", "classify", "-o", "xml", scenario(t))
	require.Error(t, err)
}

func TestClassificationDetail(t *testing.T) {
	tests := []struct {
		name string
		in   Classification
		want string
	}{
		{"reason", Classification{Reason: "empty job id"}, "empty job id"},
		{"start", Classification{Function: "state.apply", Minions: []string{"a", "b"}}, "state.apply -> a,b"},
		{"grains", Classification{GrainCount: 3}, "3 grains"},
		{"return", Classification{JobID: "1", Minion: "a"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.detail())
		})
	}
}

func jsonLines(t *testing.T, events ...types.RawEvent) string {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}
	return buf.String()
}
