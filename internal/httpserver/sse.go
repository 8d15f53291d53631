package httpserver

import (
	"encoding/json"

	"github.com/color2333/vibingu/internal/logger"
	"github.com/gin-gonic/gin"
)

// sseWriter frames `data: <json>\n\n` events onto a gin.ResponseWriter with
// the headers spec.md §6 requires for an SSE stream, flushing after every
// event so each token chunk reaches the client before the next is
// requested (spec.md §5).
type sseWriter struct {
	c *gin.Context
}

func newSSEWriter(c *gin.Context) *sseWriter {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(200)
	return &sseWriter{c: c}
}

func (w *sseWriter) writeJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Error(w.c.Request.Context(), "httpserver: failed to marshal SSE event", "err", err.Error())
		return
	}
	_, _ = w.c.Writer.Write([]byte("data: "))
	_, _ = w.c.Writer.Write(payload)
	_, _ = w.c.Writer.Write([]byte("\n\n"))
	w.c.Writer.Flush()
}
