package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/s0undt3ch/salt-analytics-framework/internal/classifier"
	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

// Source produces raw events.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- types.RawEvent) error
}

// ErrMalformed is returned by Decode for messages that are not raw events.
var ErrMalformed = errors.New("malformed event")

// envelope is the JSON wire form. Stamp is kept as text so Salt's zone-less
// layout is accepted alongside RFC 3339.
type envelope struct {
	Tag   string         `json:"tag"`
	Data  map[string]any `json:"data"`
	Stamp string         `json:"stamp,omitempty"`
}

// saltDelimiter separates tag and payload in Salt's packed event form.
var saltDelimiter = []byte("\n\n")

// Decode parses one message into a RawEvent.
func Decode(msg []byte) (types.RawEvent, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return types.RawEvent{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	if msg[0] != '{' {
		tag, data, ok := bytes.Cut(msg, saltDelimiter)
		if !ok {
			return types.RawEvent{}, fmt.Errorf("%w: no tag delimiter", ErrMalformed)
		}
		raw := types.RawEvent{Tag: string(bytes.TrimSpace(tag))}
		if err := json.Unmarshal(data, &raw.Data); err != nil {
			return types.RawEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return checkDecoded(raw)
	}

	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return types.RawEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw := types.RawEvent{Tag: env.Tag, Data: env.Data}
	if env.Stamp != "" {
		stamp, err := classifier.ParseStamp(env.Stamp)
		if err != nil {
			return types.RawEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw.Stamp = stamp
	}
	return checkDecoded(raw)
}

func checkDecoded(raw types.RawEvent) (types.RawEvent, error) {
	if raw.Tag == "" {
		return types.RawEvent{}, fmt.Errorf("%w: missing tag", ErrMalformed)
	}
	if raw.Data == nil {
		raw.Data = map[string]any{}
	}
	return raw, nil
}

// deliver sends raw to out unless ctx is done first.
func deliver(ctx context.Context, out chan<- types.RawEvent, raw types.RawEvent) error {
	select {
	case out <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoff doubles the interval up to maxInterval.
func backoff(current, maxInterval time.Duration) time.Duration {
	next := current * 2
	if next > maxInterval {
		return maxInterval
	}
	return next
}

// sleep waits d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
