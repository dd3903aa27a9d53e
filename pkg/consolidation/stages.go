package consolidation

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
	"github.com/danielsimonjr/memgraph-go/pkg/llm"
	"github.com/danielsimonjr/memgraph-go/pkg/storage"
)

// NewPatternExtractionStage returns a stage that runs the pattern detector
// over each candidate's observations and appends a generalized observation
// for every recurring template found. Records with fewer than two
// observations are skipped.
func NewPatternExtractionStage(store storage.Store, detector *PatternDetector) StageFunc {
	return func(ctx context.Context, records []*graph.MemoryRecord) (*StageResult, error) {
		result := &StageResult{}
		for _, rec := range records {
			result.Processed++
			if len(rec.Observations) < 2 {
				continue
			}

			patterns := detector.Detect(rec.Observations)
			if len(patterns) == 0 {
				continue
			}

			var generalized []string
			for _, p := range patterns {
				generalized = append(generalized, fmt.Sprintf(
					"Recurring pattern: %s (values: %s, confidence %.2f)",
					p.Template, strings.Join(p.Variables, ", "), p.Confidence))
			}
			partial := &storage.Partial{AppendObservations: generalized}
			if err := store.Update(ctx, rec.Name, partial); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.Name, err))
				continue
			}
			result.Transformed++
		}
		return result, nil
	}
}

// NewSummarizationStage returns a stage that asks the LLM collaborator for
// a one-line summary of each candidate's observations and appends it as an
// observation. Summarization is best-effort: a provider failure is
// recorded per record and the stage keeps going.
func NewSummarizationStage(store storage.Store, provider llm.Provider) StageFunc {
	return func(ctx context.Context, records []*graph.MemoryRecord) (*StageResult, error) {
		if provider == nil {
			return nil, fmt.Errorf("no llm provider configured")
		}
		result := &StageResult{}
		for _, rec := range records {
			result.Processed++
			if len(rec.Observations) < 2 {
				continue
			}

			prompt := fmt.Sprintf(
				"Summarize the following memory observations in one sentence:\n%s",
				strings.Join(rec.Observations, "\n"))
			summary, err := provider.Generate(ctx, prompt, llm.WithMaxTokens(120))
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.Name, err))
				continue
			}
			summary = strings.TrimSpace(summary)
			if summary == "" {
				continue
			}

			partial := &storage.Partial{
				AppendObservations: []string{"Summary: " + summary},
			}
			if err := store.Update(ctx, rec.Name, partial); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.Name, err))
				continue
			}
			result.Transformed++
		}
		return result, nil
	}
}
