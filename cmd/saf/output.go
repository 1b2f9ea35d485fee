package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"sigs.k8s.io/yaml"
)

// outputResult writes the result in the specified format.
func outputResult(w io.Writer, result any, format string) error {
	switch format {
	case "json":
		return outputJSON(w, result)
	case "yaml":
		return outputYAML(w, result)
	case "table":
		return outputTable(w, result)
	default:
		return fmt.Errorf("unsupported output format %q (want json, yaml or table)", format)
	}
}

func outputJSON(w io.Writer, result any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func outputTable(out io.Writer, result any) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	switch r := result.(type) {
	case ClassifyResult:
		return outputClassifyTable(w, r)
	default:
		// Fall back to JSON for unknown types
		return outputJSON(out, result)
	}
}

func outputClassifyTable(w *tabwriter.Writer, r ClassifyResult) error {
	fmt.Fprintln(w, "KIND\tJID\tMINION\tTAG\tDETAIL")
	for _, e := range r.Events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Kind, e.JobID, e.Minion, e.Tag, e.detail())
	}

	kinds := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Fprintln(w)
	for _, k := range kinds {
		fmt.Fprintf(w, "%s:\t%d\n", k, r.Counts[k])
	}
	return nil
}
