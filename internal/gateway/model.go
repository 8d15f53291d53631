package gateway

import "github.com/color2333/vibingu/internal/types"

// ModelKey identifies a logical slot in the model roster (spec.md §4.1),
// independent of whichever concrete provider model name backs it today.
type ModelKey string

const (
	ModelVisionFlash ModelKey = "vision_flash"
	ModelVision      ModelKey = "vision"
	ModelTextFlash   ModelKey = "text_flash"
	ModelText        ModelKey = "text"
	ModelSmart       ModelKey = "smart"
	ModelEmbedding   ModelKey = "embedding"
)

// defaultPermits is the static per-model in-flight ceiling table of spec.md
// §4.1. Models not listed fall back to defaultPermitLimit.
var defaultPermits = map[ModelKey]int64{
	ModelVisionFlash: 1,
	ModelVision:      10,
	ModelTextFlash:   1,
	ModelText:        3,
	ModelEmbedding:   50,
}

const defaultPermitLimit = 3

// upgradeMap routes a saturated flash permit request to its premium sibling
// within the same model family. Upgrades are ephemeral per call, never sticky.
var upgradeMap = map[ModelKey]ModelKey{
	ModelVisionFlash: ModelVision,
	ModelTextFlash:   ModelText,
}

// fallbackMap routes a premium model to its cheaper sibling after repeated
// failures, the mirror image of upgradeMap.
var fallbackMap = map[ModelKey]ModelKey{
	ModelVision: ModelVisionFlash,
	ModelText:   ModelTextFlash,
	ModelSmart:  ModelTextFlash,
}

// bucketFor maps a roster key to its usage-ledger bucket (spec.md §3).
var bucketFor = map[ModelKey]types.ModelBucket{
	ModelVisionFlash: types.BucketVisionFree,
	ModelVision:      types.BucketVision,
	ModelTextFlash:   types.BucketTextFree,
	ModelText:        types.BucketText,
	ModelSmart:       types.BucketSmart,
	ModelEmbedding:   types.BucketEmbedding,
}

func permitLimit(key ModelKey) int64 {
	if n, ok := defaultPermits[key]; ok {
		return n
	}
	return defaultPermitLimit
}
