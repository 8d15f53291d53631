package pipeline

import (
	"context"

	"github.com/color2333/vibingu/internal/gateway"
)

// Caller is the slice of *gateway.Gateway this package depends on. Pipeline
// steps take this interface rather than the concrete type so they can be
// unit-tested against a hand-written fake instead of a live upstream.
type Caller interface {
	ChatComplete(ctx context.Context, messages []gateway.Message, modelKey gateway.ModelKey, jsonMode bool, taskTag, recordID string) (gateway.Result, error)
	VisionComplete(ctx context.Context, prompt, imageBase64 string, jsonMode bool, taskTag, recordID string) (gateway.Result, error)
	HasUpstreamCredentials() bool
}

var _ Caller = (*gateway.Gateway)(nil)
