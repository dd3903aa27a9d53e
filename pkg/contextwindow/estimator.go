package contextwindow

import (
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/danielsimonjr/memgraph-go/pkg/graph"
)

// TokenEstimator estimates the token cost of text.
type TokenEstimator interface {
	// EstimateText returns the estimated token count of the given text.
	EstimateText(text string) int
}

// HeuristicEstimator approximates token counts from word counts. Cheap
// and tokenizer-free; adequate for budget bookkeeping.
type HeuristicEstimator struct {
	// Multiplier converts word counts to token estimates (default 1.3).
	Multiplier float64
}

// NewHeuristicEstimator creates a word-count estimator with the default
// multiplier.
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{Multiplier: 1.3}
}

// EstimateText returns ceil(word_count * multiplier).
func (e *HeuristicEstimator) EstimateText(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	mult := e.Multiplier
	if mult <= 0 {
		mult = 1.3
	}
	return int(math.Ceil(float64(words) * mult))
}

// TiktokenEstimator counts tokens with a real BPE tokenizer. More
// accurate than the heuristic at the cost of an encoding table load.
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenEstimator creates an estimator backed by the given encoding
// (e.g. "cl100k_base").
func NewTiktokenEstimator(encodingName string) (*TiktokenEstimator, error) {
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &TiktokenEstimator{encoding: enc}, nil
}

// EstimateText returns the exact token count under the configured
// encoding.
func (e *TiktokenEstimator) EstimateText(text string) int {
	return len(e.encoding.Encode(text, nil, nil))
}

// estimateRecord estimates the token cost of rendering a record into a
// prompt: its name, type, observations, and scoping metadata.
func estimateRecord(est TokenEstimator, rec *graph.MemoryRecord) int {
	var b strings.Builder
	b.WriteString(rec.Name)
	b.WriteByte(' ')
	b.WriteString(rec.EntityType)
	for _, obs := range rec.Observations {
		b.WriteByte(' ')
		b.WriteString(obs)
	}
	b.WriteByte(' ')
	b.WriteString(string(rec.MemoryType))
	if rec.SessionID != "" {
		b.WriteByte(' ')
		b.WriteString(rec.SessionID)
	}
	if rec.TaskID != "" {
		b.WriteByte(' ')
		b.WriteString(rec.TaskID)
	}
	return est.EstimateText(b.String())
}
