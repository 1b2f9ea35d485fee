package source

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/testutil"
	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// --- Decode ---

func TestDecode_Envelope(t *testing.T) {
	raw, err := Decode([]byte(`{"tag":"salt/job/1/ret/a","data":{"id":"a","retcode":0}}`))
	require.NoError(t, err)
	assert.Equal(t, "salt/job/1/ret/a", raw.Tag)
	assert.Equal(t, "a", raw.Data["id"])
}

func TestDecode_EnvelopeStamp(t *testing.T) {
	tests := []struct {
		name  string
		stamp string
	}{
		{"salt layout", "2023-06-01T12:00:00.000000"},
		{"rfc3339", "2023-06-01T12:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Decode([]byte(`{"tag":"salt/job/1/new","stamp":"` + tt.stamp + `","data":{}}`))
			require.NoError(t, err)
			assert.Equal(t, time.Date(2023, time.June, 1, 12, 0, 0, 0, time.UTC), raw.Stamp.UTC())
		})
	}
}

func TestDecode_PackedSaltEvent(t *testing.T) {
	raw, err := Decode([]byte("salt/job/1/new\n\n{\"minions\":[\"a\"],\"fun\":\"test.ping\"}"))
	require.NoError(t, err)
	assert.Equal(t, "salt/job/1/new", raw.Tag)
	assert.Equal(t, "test.ping", raw.Data["fun"])
}

func TestDecode_MissingDataIsEmpty(t *testing.T) {
	raw, err := Decode([]byte(`{"tag":"salt/auth"}`))
	require.NoError(t, err)
	assert.NotNil(t, raw.Data)
	assert.Empty(t, raw.Data)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"empty", "   "},
		{"not json", "{nope"},
		{"no tag", `{"data":{}}`},
		{"packed without delimiter", "salt/job/1/new {}"},
		{"packed bad json", "salt/job/1/new\n\n[1,2"},
		{"bad stamp", `{"tag":"salt/job/1/new","stamp":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.msg))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoff(time.Second, time.Minute))
	assert.Equal(t, time.Minute, backoff(40*time.Second, time.Minute))
}

// --- ReaderSource ---

func TestReaderSource_Run(t *testing.T) {
	input := strings.Join([]string{
		string(mustJSON(t, testutil.StartEvent("1", "test.ping", testutil.T0, "a"))),
		"",
		"garbage",
		string(mustJSON(t, testutil.ReturnEvent("1", "a", testutil.T0, nil))),
	}, "\n")

	out := make(chan types.RawEvent, 10)
	src := NewReaderSource(zap.NewNop(), "test", strings.NewReader(input))
	require.NoError(t, src.Run(context.Background(), out))
	close(out)

	var tags []string
	for raw := range out {
		tags = append(tags, raw.Tag)
	}
	assert.Equal(t, []string{"salt/job/1/new", "salt/job/1/ret/a"}, tags)
}

func TestReaderSource_StopsOnCancel(t *testing.T) {
	input := string(mustJSON(t, testutil.GrainsEvent("a", nil))) + "\n"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan types.RawEvent)
	src := NewReaderSource(zap.NewNop(), "test", strings.NewReader(input))
	assert.NoError(t, src.Run(ctx, out))
}

func TestReaderSource_EachPropagatesError(t *testing.T) {
	input := string(mustJSON(t, testutil.GrainsEvent("a", nil))) + "\n"
	src := NewReaderSource(zap.NewNop(), "test", strings.NewReader(input))

	boom := errors.New("boom")
	err := src.Each(context.Background(), func(types.RawEvent) error { return boom })
	assert.ErrorIs(t, err, boom)
}

// --- KafkaSource ---

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	errs      []error
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.msgs) > 0 {
		msg := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func TestKafkaSource_DeliversAndCommits(t *testing.T) {
	msgTime := testutil.T0.Add(time.Minute)
	r := &fakeReader{
		errs: []error{errors.New("broker down")},
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"tag":"salt/job/1/new","data":{}}`), Time: msgTime},
			{Offset: 2, Value: []byte(`not an event`)},
			{Offset: 3, Value: []byte("salt/job/1/ret/a\n\n{\"id\":\"a\"}")},
		},
	}
	src := newKafkaSource(zap.NewNop(), "salt-events", r)
	src.retryInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan types.RawEvent, 10)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	first := <-out
	second := <-out
	assert.Equal(t, "salt/job/1/new", first.Tag)
	assert.Equal(t, msgTime, first.Stamp)
	assert.Equal(t, "salt/job/1/ret/a", second.Tag)

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, r.commits())
	assert.True(t, r.closed)
}

func TestParseStartOffset(t *testing.T) {
	off, err := parseStartOffset("")
	require.NoError(t, err)
	assert.Equal(t, kafka.FirstOffset, off)

	off, err = parseStartOffset("Latest")
	require.NoError(t, err)
	assert.Equal(t, kafka.LastOffset, off)

	_, err = parseStartOffset("middle")
	require.Error(t, err)
}

// --- RedisSource ---

type fakeSubscription struct {
	ch     chan *redis.Message
	closed bool
}

func (f *fakeSubscription) Channel(...redis.ChannelOption) <-chan *redis.Message { return f.ch }

func (f *fakeSubscription) Close() error {
	f.closed = true
	return nil
}

func TestRedisSource_Run(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan *redis.Message, 3)}
	sub.ch <- &redis.Message{Channel: "salt/events", Payload: `{"tag":"saf/grains/a","data":{"os":"bsd"}}`}
	sub.ch <- &redis.Message{Channel: "salt/events", Payload: `{`}
	sub.ch <- &redis.Message{Channel: "salt/events", Payload: `{"tag":"salt/job/1/ret/a","data":{}}`}
	close(sub.ch)

	src := newRedisSource(zap.NewNop(), "salt/events", func(context.Context) subscription { return sub })
	out := make(chan types.RawEvent, 3)
	err := src.Run(context.Background(), out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	assert.True(t, sub.closed)

	require.Len(t, out, 2)
	assert.Equal(t, "saf/grains/a", (<-out).Tag)
	assert.Equal(t, "salt/job/1/ret/a", (<-out).Tag)
}

func TestRedisSource_StopsOnCancel(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan *redis.Message)}
	src := newRedisSource(zap.NewNop(), "salt/events", func(context.Context) subscription { return sub })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, src.Run(ctx, make(chan types.RawEvent)))
	assert.True(t, sub.closed)
}
