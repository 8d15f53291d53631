package utils

import "encoding/json"

// ToJSON converts a value to a JSON string, returning "" on marshal failure.
func ToJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
