package classifier

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const (
	DefaultJobPrefix    = "salt/job"
	DefaultGrainsPrefix = "saf/grains"

	// saltStampLayout is the layout of Salt's _stamp field, which carries no zone.
	saltStampLayout = "2006-01-02T15:04:05.999999"
)

// Options configures a Classifier.
type Options struct {
	// JobPrefix is the tag prefix of job events. Defaults to "salt/job".
	JobPrefix string

	// GrainsPrefix is the tag prefix of enrichment events. Defaults to "saf/grains".
	GrainsPrefix string

	// Functions, when non-empty, restricts tracked jobs to these Salt functions.
	Functions []string
}

// Classifier maps raw events to typed events.
type Classifier struct {
	jobPrefix    string
	grainsPrefix string
	functions    []string
}

// New creates a Classifier, filling in default prefixes.
func New(opts Options) *Classifier {
	if opts.JobPrefix == "" {
		opts.JobPrefix = DefaultJobPrefix
	}
	if opts.GrainsPrefix == "" {
		opts.GrainsPrefix = DefaultGrainsPrefix
	}
	return &Classifier{
		jobPrefix:    strings.TrimSuffix(opts.JobPrefix, "/") + "/",
		grainsPrefix: strings.TrimSuffix(opts.GrainsPrefix, "/") + "/",
		functions:    slices.Clone(opts.Functions),
	}
}

// Classify returns the typed event for raw.
func (c *Classifier) Classify(raw types.RawEvent) types.Event {
	switch {
	case strings.HasPrefix(raw.Tag, c.jobPrefix):
		return c.classifyJob(raw)
	case strings.HasPrefix(raw.Tag, c.grainsPrefix):
		return c.classifyGrains(raw)
	default:
		return unrelated(raw, "unknown tag")
	}
}

func (c *Classifier) classifyJob(raw types.RawEvent) types.Event {
	parts := strings.Split(strings.TrimPrefix(raw.Tag, c.jobPrefix), "/")
	if parts[0] == "" {
		return unrelated(raw, "empty job id")
	}
	jid := types.JobID(parts[0])

	switch {
	case len(parts) == 2 && parts[1] == "new":
		return c.classifyStart(raw, jid)
	case len(parts) == 3 && parts[1] == "ret" && parts[2] != "":
		stamp, err := eventTime(raw)
		if err != nil {
			return unrelated(raw, err.Error())
		}
		return types.JobCompleted{
			JobID:       jid,
			ResponderID: types.ResponderID(parts[2]),
			Timestamp:   stamp,
			Payload:     raw.Data,
		}
	default:
		return unrelated(raw, "unhandled job phase")
	}
}

func (c *Classifier) classifyStart(raw types.RawEvent, jid types.JobID) types.Event {
	fun, _ := raw.Data["fun"].(string)
	if len(c.functions) > 0 && !slices.Contains(c.functions, fun) {
		return unrelated(raw, fmt.Sprintf("function %q not watched", fun))
	}

	minions := stringList(raw.Data["minions"])
	if len(minions) == 0 {
		return unrelated(raw, "start without minions")
	}
	stamp, err := eventTime(raw)
	if err != nil {
		return unrelated(raw, err.Error())
	}

	responders := make([]types.ResponderID, len(minions))
	for i, m := range minions {
		responders[i] = types.ResponderID(m)
	}
	return types.JobStarted{
		JobID:      jid,
		Responders: responders,
		Function:   fun,
		Timestamp:  stamp,
		Payload:    raw.Data,
	}
}

func (c *Classifier) classifyGrains(raw types.RawEvent) types.Event {
	minion := strings.TrimPrefix(raw.Tag, c.grainsPrefix)
	if minion == "" || strings.Contains(minion, "/") {
		return unrelated(raw, "malformed grains tag")
	}

	grains := raw.Data
	if nested, ok := raw.Data["grains"].(map[string]any); ok {
		grains = nested
	}
	// A missing stamp is tolerated here; enrichment ordering does not depend on it.
	stamp, _ := eventTime(raw)

	return types.EnrichmentUpdated{
		ResponderID: types.ResponderID(minion),
		Attributes:  Flatten(grains),
		Timestamp:   stamp,
	}
}

// Flatten renders values as strings: strings verbatim, anything else as JSON.
// Keys starting with an underscore (Salt bookkeeping such as _stamp) are skipped.
func Flatten(data map[string]any) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, "_") {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				out[k] = fmt.Sprint(val)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

func eventTime(raw types.RawEvent) (time.Time, error) {
	if !raw.Stamp.IsZero() {
		return raw.Stamp, nil
	}
	s, ok := raw.Data["_stamp"].(string)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	return ParseStamp(s)
}

// ParseStamp parses an RFC3339 timestamp or Salt's zone-less _stamp (as UTC).
func ParseStamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(saltStampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func unrelated(raw types.RawEvent, reason string) types.Unrelated {
	return types.Unrelated{Tag: raw.Tag, Reason: reason}
}
