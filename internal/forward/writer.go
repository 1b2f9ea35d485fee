package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const sinkWriter = "writer"

// Output formats supported by WriterSink.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// WriterSink encodes records to an io.Writer: one JSON object per line, or
// YAML documents separated by "---".
type WriterSink struct {
	logger *zap.Logger
	format string

	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink. An empty format means JSON.
func NewWriterSink(logger *zap.Logger, w io.Writer, format string) (*WriterSink, error) {
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unsupported output format %q (want %s or %s)", format, FormatJSON, FormatYAML)
	}
	return &WriterSink{logger: logger.Named("writer-sink"), format: format, w: w}, nil
}

// Name implements Sink.
func (s *WriterSink) Name() string { return sinkWriter }

// Start implements Sink.
func (s *WriterSink) Start(_ context.Context) {}

// Send implements Sink.
func (s *WriterSink) Send(_ context.Context, rec types.ConsolidatedRecord) error {
	b, err := EncodeRecord(rec, s.format)
	if err != nil {
		sendTotal.WithLabelValues(sinkWriter, "error").Inc()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		sendTotal.WithLabelValues(sinkWriter, "error").Inc()
		s.logger.Debug("Write failed", zap.String("jid", string(rec.JobID)), zap.Error(err))
		return fmt.Errorf("write record: %w", err)
	}
	sendTotal.WithLabelValues(sinkWriter, "success").Inc()
	return nil
}

// Close implements Sink. The underlying writer is owned by the caller.
func (s *WriterSink) Close() error { return nil }

// EncodeRecord renders one record in the given format, terminated so that
// consecutive outputs can be concatenated.
func EncodeRecord(rec types.ConsolidatedRecord, format string) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	switch format {
	case FormatYAML:
		y, err := yaml.JSONToYAML(b)
		if err != nil {
			return nil, fmt.Errorf("convert record to yaml: %w", err)
		}
		return append([]byte("---\n"), y...), nil
	default:
		return append(b, '\n'), nil
	}
}
