package pipeline

import (
	"context"

	"github.com/color2333/vibingu/internal/logger"
)

// pipelineInfo, pipelineWarn, and pipelineError log a pipeline stage/action
// pair plus extra fields, mirroring the teacher's chat_pipline/common.go
// three-helper convention, generalized from chat-pipeline stages to
// ingestion phases.
func pipelineInfo(ctx context.Context, stage, action string, fields map[string]interface{}) {
	logger.Info(ctx, stage+": "+action, flatten(fields)...)
}

func pipelineWarn(ctx context.Context, stage, action string, fields map[string]interface{}) {
	logger.Warn(ctx, stage+": "+action, flatten(fields)...)
}

func pipelineError(ctx context.Context, stage, action string, fields map[string]interface{}) {
	logger.Error(ctx, stage+": "+action, flatten(fields)...)
}

func flatten(fields map[string]interface{}) []interface{} {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}
