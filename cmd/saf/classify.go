package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/config"
	"github.com/s0undt3ch/salt-analytics-framework/internal/correlator"
	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

// Classification describes how one raw event was understood.
type Classification struct {
	Tag        string   `json:"tag"`
	Kind       string   `json:"kind"`
	JobID      string   `json:"jid,omitempty"`
	Minion     string   `json:"minion,omitempty"`
	Function   string   `json:"fun,omitempty"`
	Minions    []string `json:"minions,omitempty"`
	GrainCount int      `json:"grainCount,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// ClassifyResult is the result of a classify command.
type ClassifyResult struct {
	Events []Classification `json:"events"`
	Counts map[string]int   `json:"counts"`
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify FILE...",
		Short: "Show how each recorded event is classified",
		Long: `Read JSON-lines event files and print the classification of every event:
job start, job return, grains update or unrelated (with the reason).

Examples:
  saf classify events.jsonl
  saf classify -o table -c config.yaml events.jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: runClassify,
	}
}

func runClassify(cmd *cobra.Command, files []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// The correlator applies mode defaults (state mode watches state.apply).
	corr, err := correlator.New(zap.NewNop(), cfg.CorrelatorOptions())
	if err != nil {
		return err
	}
	c := corr.Classifier()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := ClassifyResult{Counts: map[string]int{}}
	for _, name := range files {
		err := replayFile(ctx, zap.NewNop(), cmd.InOrStdin(), name, func(raw types.RawEvent) error {
			cl := describe(raw.Tag, c.Classify(raw))
			result.Events = append(result.Events, cl)
			result.Counts[cl.Kind]++
			return nil
		})
		if err != nil {
			return err
		}
	}
	return outputResult(cmd.OutOrStdout(), result, outputFmt)
}

func describe(tag string, ev types.Event) Classification {
	cl := Classification{Tag: tag, Kind: string(ev.Kind())}
	switch e := ev.(type) {
	case types.JobStarted:
		cl.JobID = string(e.JobID)
		cl.Function = e.Function
		for _, r := range e.Responders {
			cl.Minions = append(cl.Minions, string(r))
		}
	case types.JobCompleted:
		cl.JobID = string(e.JobID)
		cl.Minion = string(e.ResponderID)
	case types.EnrichmentUpdated:
		cl.Minion = string(e.ResponderID)
		cl.GrainCount = len(e.Attributes)
	case types.Unrelated:
		cl.Reason = e.Reason
	}
	return cl
}

func (c Classification) detail() string {
	switch {
	case c.Reason != "":
		return c.Reason
	case c.Function != "":
		return fmt.Sprintf("%s -> %s", c.Function, strings.Join(c.Minions, ","))
	case c.GrainCount > 0:
		return fmt.Sprintf("%d grains", c.GrainCount)
	default:
		return ""
	}
}
