package gateway

import (
	"context"
	"strings"

	"github.com/color2333/vibingu/internal/types"
)

// UsageLedger is the append-only sink of spec.md §4.3 (C3). Implementations
// must never let a write failure propagate to the caller.
type UsageLedger interface {
	Write(ctx context.Context, row *types.TokenUsageRow) error
}

// priceTable gives USD-per-1k-token input/output rates for known model
// names, keyed by the normalized (lowercased) name. Unknown models fall back
// to defaultRate. Spec.md §9 flags this table as something to externalize;
// it is kept as a static table here and is easy to move to config later.
type priceRate struct {
	inputPer1K, outputPer1K float64
}

var priceTable = map[string]priceRate{
	"gpt-4o":                  {inputPer1K: 0.0025, outputPer1K: 0.010},
	"gpt-4o-mini":             {inputPer1K: 0.00015, outputPer1K: 0.0006},
	"text-embedding-3-small":  {inputPer1K: 0.00002, outputPer1K: 0},
	"text-embedding-3-large":  {inputPer1K: 0.00013, outputPer1K: 0},
	"glm-4":                   {inputPer1K: 0.0007, outputPer1K: 0.0007}, // RMB converted to USD below
	"glm-4-flash":             {inputPer1K: 0, outputPer1K: 0},
	"glm-4v":                  {inputPer1K: 0.0014, outputPer1K: 0.0014},
	"glm-4v-flash":            {inputPer1K: 0, outputPer1K: 0},
	"embedding-3":             {inputPer1K: 0.00007, outputPer1K: 0},
}

var defaultRate = priceRate{inputPer1K: 0.001, outputPer1K: 0.002}

// rmbToUSD is the hard-coded RMB→USD conversion noted as an externalization
// candidate in spec.md §9.
const rmbToUSD = 0.14

// EstimateCostUSD computes the estimated dollar cost of a call from its token
// counts, per spec.md §4.3: (prompt/1000)*input_rate + (completion/1000)*output_rate.
func EstimateCostUSD(modelName string, promptTokens, completionTokens int) float64 {
	rate, ok := priceTable[strings.ToLower(modelName)]
	if !ok {
		rate = defaultRate
	}
	cost := float64(promptTokens)/1000*rate.inputPer1K + float64(completionTokens)/1000*rate.outputPer1K
	if strings.HasPrefix(strings.ToLower(modelName), "glm") {
		cost *= rmbToUSD
	}
	return cost
}

// DeriveBucket classifies a bare concrete model name into a usage-ledger
// bucket via substring matching, per spec.md §4.3 — used when a caller
// records usage without the internal roster key context (e.g. regenerated
// historical rows, or an externally supplied model override).
func DeriveBucket(modelName string) types.ModelBucket {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "embedding"):
		return types.BucketEmbedding
	case strings.Contains(lower, "v-flash"), strings.Contains(lower, "4v") && strings.Contains(lower, "flash"):
		return types.BucketVisionFree
	case strings.Contains(lower, "v") && (strings.Contains(lower, "vision") || strings.Contains(lower, "4v") || strings.Contains(lower, "-v")):
		return types.BucketVision
	case strings.Contains(lower, "flash"):
		return types.BucketTextFree
	case strings.Contains(lower, "smart") || strings.Contains(lower, "o1") || strings.Contains(lower, "reason"):
		return types.BucketSmart
	case lower != "":
		return types.BucketText
	default:
		return types.BucketOther
	}
}
