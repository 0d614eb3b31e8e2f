package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

type keyData struct {
	Path   string            `json:"path"`
	Params map[string]string `json:"params"`
}

// Key fingerprints an upstream URL and its query parameters. Parameter
// order never affects the result since encoding/json sorts map keys.
func Key(path string, params map[string]string) string {
	if params == nil {
		params = map[string]string{}
	}
	// Marshalling a string-only struct cannot fail.
	data, _ := json.Marshal(keyData{Path: path, Params: params})
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
