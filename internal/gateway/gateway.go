// Package gateway implements the Upstream Concurrency Governor: a single
// choke point every AI call passes through, layering per-model concurrency
// limiting, retry/backoff classification, and usage accounting independently
// of one another (spec.md §4.1 — "keep them separate; do not flatten").
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/color2333/vibingu/internal/config"
	apperrors "github.com/color2333/vibingu/internal/errors"
	"github.com/color2333/vibingu/internal/jsonrepair"
	"github.com/color2333/vibingu/internal/logger"
	"github.com/color2333/vibingu/internal/types"
)

const maxAttempts = 5 // 3 attempts + 2 extra to cover a fallback leg

// Gateway is the sole entry point for upstream model calls. Every phase of
// the ingestion pipeline and every chat turn goes through it rather than
// calling an upstream client directly.
type Gateway struct {
	cfg    *config.Config
	client upstreamClient
	sems   *semaphoreMap
	ledger UsageLedger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewGateway wires a Gateway against the configured provider. ledger may be
// nil in no-API-key mode tests; Write failures are always swallowed (logged
// only), per spec.md §4.3.
func NewGateway(cfg *config.Config, ledger UsageLedger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		client: newOpenAIClient(cfg),
		sems:   newSemaphoreMap(),
		ledger: ledger,
		sleep:  defaultSleep,
	}
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result is what every public Gateway primitive returns.
type Result struct {
	Content string
	Model   string // concrete upstream model name actually used
	Usage   types.Usage
	key     ModelKey // roster key actually acquired, for usage-bucket lookup
}

// HasUpstreamCredentials reports whether this gateway has a configured
// upstream API key, letting callers take a rules-based path instead of
// invoking it (spec.md §4.1).
func (g *Gateway) HasUpstreamCredentials() bool {
	return g.cfg.HasUpstreamCredentials()
}

func (g *Gateway) resolveConcreteModel(key ModelKey) string {
	switch key {
	case ModelVisionFlash:
		return g.cfg.SimpleVision
	case ModelVision:
		return g.cfg.VisionModel
	case ModelTextFlash:
		return g.cfg.SimpleText
	case ModelText:
		return g.cfg.TextModel
	case ModelSmart:
		return g.cfg.SmartModel
	case ModelEmbedding:
		return g.cfg.EmbeddingModel
	default:
		return string(key)
	}
}

// attemptFunc is what callWithRetry drives on every invocation; it receives
// the concrete upstream model name resolved for whichever key was acquired
// on that attempt.
type attemptFunc func(ctx context.Context, model string) (string, types.Usage, error)

// callWithRetry implements spec.md §4.1's layers (a)+(b)+(c) around a single
// logical call: acquire-with-upgrade, invoke, classify, backoff, and —
// after the 2nd failure — a one-time fallback to the cheaper sibling model.
func (g *Gateway) callWithRetry(
	ctx context.Context, requested ModelKey, allowFallback bool, fn attemptFunc,
) (Result, error) {
	if !g.cfg.HasUpstreamCredentials() {
		return Result{}, apperrors.New(apperrors.KindNoUpstreamAPIKey, "no upstream API key configured")
	}

	current := requested
	fallbackUsed := false
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		concreteKey, release, acqErr := g.acquireWithUpgrade(ctx, current)
		if acqErr != nil {
			return Result{}, acqErr
		}

		modelName := g.resolveConcreteModel(concreteKey)
		content, usage, err := fn(ctx, modelName)
		release()

		if err == nil {
			return Result{Content: content, Model: modelName, Usage: usage, key: concreteKey}, nil
		}

		lastErr = err
		if !apperrors.IsRetryableText(err.Error()) {
			return Result{}, apperrors.Wrap(apperrors.KindUnretryable, "upstream call failed", err)
		}

		logger.Warn(ctx, "gateway attempt failed, will retry",
			"attempt", attempt, "model_key", string(concreteKey), "err", err.Error())

		if attempt == 2 && allowFallback && !fallbackUsed {
			if fb, ok := fallbackMap[current]; ok {
				current = fb
				fallbackUsed = true
			}
		}

		if attempt == maxAttempts {
			break
		}

		delay := backoffDelay(err.Error(), attempt)
		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			return Result{}, sleepErr
		}
	}

	return Result{}, apperrors.Wrap(apperrors.KindMaxRetriesExceeded, "gateway retries exhausted", lastErr)
}

// backoffDelay is spec.md §4.1's delay = min(base × 2^(attempt-1), 30s),
// base = 5s for 429/1302-classified errors and 1s otherwise.
func backoffDelay(errText string, attempt int) time.Duration {
	base := time.Second
	if strings.Contains(errText, "429") || strings.Contains(errText, "1302") {
		base = 5 * time.Second
	}
	delay := base * time.Duration(uint(1)<<uint(attempt-1))
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

func (g *Gateway) recordUsage(
	ctx context.Context, modelName string, key ModelKey, usage types.Usage, taskTag string, recordID string,
) {
	if g.ledger == nil {
		return
	}
	bucket, ok := bucketFor[key]
	if !ok {
		bucket = DeriveBucket(modelName)
	}
	row := &types.TokenUsageRow{
		Model:            modelName,
		Bucket:           bucket,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		EstimatedCostUSD: EstimateCostUSD(modelName, usage.PromptTokens, usage.CompletionTokens),
		TaskTag:          taskTag,
	}
	if recordID != "" {
		row.RecordID = &recordID
	}
	if err := g.ledger.Write(ctx, row); err != nil {
		logger.Error(ctx, "usage ledger write failed", "err", err.Error())
	}
}

// ChatComplete implements spec.md §4.1's chat primitive. model selects the
// roster key to start from (ModelText or ModelSmart). With jsonMode the raw
// response is checked with jsonrepair and a KindParseFailure error is returned
// when no strategy recovers it; the content itself is returned as received,
// unrepaired, and callers parse it.
func (g *Gateway) ChatComplete(
	ctx context.Context, messages []Message, modelKey ModelKey, jsonMode bool, taskTag, recordID string,
) (Result, error) {
	if modelKey == "" {
		modelKey = ModelText
	}
	result, err := g.callWithRetry(ctx, modelKey, true, func(ctx context.Context, model string) (string, types.Usage, error) {
		return g.client.ChatCompletion(ctx, model, messages, jsonMode)
	})
	if err != nil {
		return Result{}, err
	}
	g.recordUsage(ctx, result.Model, result.key, result.Usage, taskTag, recordID)
	if jsonMode {
		if _, repairErr := jsonrepair.Repair(result.Content); repairErr != nil {
			return result, apperrors.Wrap(apperrors.KindParseFailure, "upstream JSON response unrecoverable", repairErr)
		}
	}
	return result, nil
}

// VisionComplete implements spec.md §4.1's vision primitive (image + prompt
// in, text out). It always starts from ModelVisionFlash, upgrading to
// ModelVision under contention via acquireWithUpgrade.
func (g *Gateway) VisionComplete(
	ctx context.Context, prompt, imageBase64 string, jsonMode bool, taskTag, recordID string,
) (Result, error) {
	result, err := g.callWithRetry(ctx, ModelVisionFlash, true, func(ctx context.Context, model string) (string, types.Usage, error) {
		return g.client.VisionCompletion(ctx, model, prompt, imageBase64, jsonMode)
	})
	if err != nil {
		return Result{}, err
	}
	g.recordUsage(ctx, result.Model, result.key, result.Usage, taskTag, recordID)
	if jsonMode {
		if _, repairErr := jsonrepair.Repair(result.Content); repairErr != nil {
			return result, apperrors.Wrap(apperrors.KindParseFailure, "upstream JSON response unrecoverable", repairErr)
		}
	}
	return result, nil
}

// ChatCompleteStream implements spec.md §4.11's token-streaming primitive
// for the chat core: it acquires a permit exactly like ChatComplete, streams
// deltas through onToken, and records usage once the stream ends. Unlike
// ChatComplete it performs no mid-stream retry — a failure partway through
// is reported to the caller together with whatever onToken already
// delivered, since tokens already written to the SSE response cannot be
// un-sent.
func (g *Gateway) ChatCompleteStream(
	ctx context.Context, messages []Message, modelKey ModelKey, taskTag, recordID string, onToken func(string) error,
) (Result, error) {
	if modelKey == "" {
		modelKey = ModelSmart
	}
	if !g.cfg.HasUpstreamCredentials() {
		return Result{}, apperrors.New(apperrors.KindNoUpstreamAPIKey, "no upstream API key configured")
	}

	concreteKey, release, err := g.acquireWithUpgrade(ctx, modelKey)
	if err != nil {
		return Result{}, err
	}
	defer release()

	modelName := g.resolveConcreteModel(concreteKey)
	var tokenErr error
	usage, streamErr := g.client.ChatCompletionStream(ctx, modelName, messages, func(tok string) {
		if tokenErr != nil {
			return
		}
		tokenErr = onToken(tok)
	})
	result := Result{Model: modelName, key: concreteKey, Usage: usage}
	if tokenErr != nil {
		return result, tokenErr
	}
	if streamErr != nil {
		return result, apperrors.Wrap(apperrors.KindUnretryable, "upstream stream failed", streamErr)
	}
	g.recordUsage(ctx, modelName, concreteKey, usage, taskTag, recordID)
	return result, nil
}

// Embed implements spec.md §4.1's embedding primitive. Embeddings have no
// cheaper fallback sibling, so fallback is disabled for this call.
func (g *Gateway) Embed(ctx context.Context, text, taskTag, recordID string) ([]float32, error) {
	var vector []float32
	result, err := g.callWithRetry(ctx, ModelEmbedding, false, func(ctx context.Context, model string) (string, types.Usage, error) {
		v, usage, err := g.client.Embedding(ctx, model, text)
		vector = v
		return "", usage, err
	})
	if err != nil {
		return nil, err
	}
	g.recordUsage(ctx, result.Model, result.key, result.Usage, taskTag, recordID)
	return vector, nil
}
