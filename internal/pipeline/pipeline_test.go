package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/correlator"
	"github.com/s0undt3ch/salt-analytics-framework/internal/forward"
	"github.com/s0undt3ch/salt-analytics-framework/internal/forward/mocks"
	"github.com/s0undt3ch/salt-analytics-framework/internal/source"
	"github.com/s0undt3ch/salt-analytics-framework/internal/testutil"
	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

var t0 = testutil.T0

func jsonl(t *testing.T, events ...types.RawEvent) string {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}
	return buf.String()
}

func newCorrelator(t *testing.T) *correlator.Correlator {
	t.Helper()
	c, err := correlator.New(zap.NewNop(), correlator.Options{})
	require.NoError(t, err)
	return c
}

func TestRun_DeliversToEverySink(t *testing.T) {
	ctrl := gomock.NewController(t)

	input := jsonl(t,
		testutil.GrainsEvent("a", map[string]string{"os": "Debian"}),
		testutil.GrainsEvent("b", map[string]string{"os": "FreeBSD"}),
		testutil.StartEvent("1", "test.ping", t0, "a", "b"),
		testutil.ReturnEvent("1", "a", t0.Add(time.Second), nil),
		testutil.ReturnEvent("1", "b", t0.Add(2*time.Second), nil),
		testutil.ReturnEvent("1", "c", t0.Add(3*time.Second), nil),
	)
	src := source.NewReaderSource(zap.NewNop(), "test", strings.NewReader(input))

	var mu sync.Mutex
	var got []types.ConsolidatedRecord

	first := mocks.NewMockSink(ctrl)
	first.EXPECT().Name().Return("first").AnyTimes()
	first.EXPECT().Start(gomock.Any()).Times(1)
	first.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rec types.ConsolidatedRecord) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, rec)
			return nil
		}).Times(2)
	first.EXPECT().Close().Return(nil).Times(1)

	// A failing sink does not stop delivery to the others.
	failing := mocks.NewMockSink(ctrl)
	failing.EXPECT().Name().Return("failing").AnyTimes()
	failing.EXPECT().Start(gomock.Any()).Times(1)
	failing.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("unavailable")).Times(2)
	failing.EXPECT().Close().Return(errors.New("already closed")).Times(1)

	p := New(zap.NewNop(), src, newCorrelator(t), first, failing)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.False(t, p.Running())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, types.ResponderID("a"), got[0].ResponderID)
	assert.Equal(t, map[string]string{"os": "Debian"}, got[0].Attributes)
	assert.Equal(t, types.ResponderID("b"), got[1].ResponderID)
	assert.Equal(t, map[string]string{"os": "FreeBSD"}, got[1].Attributes)
}

func TestRun_WriterSinkOutput(t *testing.T) {
	input := jsonl(t,
		testutil.StartEvent("1", "state.apply", t0, "a"),
		testutil.ReturnEvent("1", "a", t0.Add(time.Second), map[string]any{"return": "ok"}),
	)
	src := source.NewReaderSource(zap.NewNop(), "test", strings.NewReader(input))
	corr, err := correlator.New(zap.NewNop(), correlator.Options{Mode: correlator.ModeState})
	require.NoError(t, err)

	var out bytes.Buffer
	sink, err := forward.NewWriterSink(zap.NewNop(), &out, forward.FormatJSON)
	require.NoError(t, err)

	require.NoError(t, New(zap.NewNop(), src, corr, sink).Run(context.Background()))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &rec))
	assert.Equal(t, "1", rec["jid"])
	assert.Equal(t, "a", rec["minion_id"])
	assert.Equal(t, 1.0, rec["duration"])
	_, hasGrains := rec["grains"]
	assert.False(t, hasGrains)
}

type failingSource struct{}

func (failingSource) Name() string { return "failing" }

func (failingSource) Run(context.Context, chan<- types.RawEvent) error {
	return errors.New("connection refused")
}

func TestRun_SourceErrorStopsPipeline(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	sink.EXPECT().Name().Return("mock").AnyTimes()
	sink.EXPECT().Start(gomock.Any())
	sink.EXPECT().Close().Return(nil)

	err := New(zap.NewNop(), failingSource{}, newCorrelator(t), sink).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source failing")
	assert.Contains(t, err.Error(), "connection refused")
}

type blockingSource struct{ started chan struct{} }

func (blockingSource) Name() string { return "blocking" }

func (b blockingSource) Run(ctx context.Context, _ chan<- types.RawEvent) error {
	close(b.started)
	<-ctx.Done()
	return nil
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := blockingSource{started: make(chan struct{})}
	p := New(zap.NewNop(), src, newCorrelator(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-src.started
	assert.True(t, p.Running())
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}
}
