package pipeline

import "encoding/base64"

// encodeImage renders raw image bytes as the base64 string the gateway's
// vision calls expect (spec.md §4.4).
func encodeImage(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
