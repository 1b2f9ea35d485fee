package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const (
	sourceReader = "reader"

	maxLineSize = 16 << 20
)

// ReaderSource reads one raw event per line. Blank lines are skipped.
type ReaderSource struct {
	logger *zap.Logger
	name   string
	r      io.Reader
}

// NewReaderSource creates a ReaderSource. name identifies the input in logs.
func NewReaderSource(logger *zap.Logger, name string, r io.Reader) *ReaderSource {
	return &ReaderSource{logger: logger.Named("reader-source"), name: name, r: r}
}

// Name implements Source.
func (s *ReaderSource) Name() string { return sourceReader }

// Run implements Source. Returns nil at EOF.
func (s *ReaderSource) Run(ctx context.Context, out chan<- types.RawEvent) error {
	return s.Each(ctx, func(raw types.RawEvent) error {
		return deliver(ctx, out, raw)
	})
}

// Each calls fn for every decodable line, stopping at the first error fn returns.
func (s *ReaderSource) Each(ctx context.Context, fn func(types.RawEvent) error) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return nil
		}
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		raw, err := Decode(scanner.Bytes())
		if err != nil {
			messagesTotal.WithLabelValues(sourceReader, "malformed").Inc()
			s.logger.Debug("Skipping malformed line",
				zap.String("input", s.name),
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		messagesTotal.WithLabelValues(sourceReader, "decoded").Inc()
		if err := fn(raw); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", s.name, err)
	}
	return nil
}
