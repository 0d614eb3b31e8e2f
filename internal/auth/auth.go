package auth

import "strings"

// Authenticator checks client credentials against a fixed set of keys.
// A disabled Authenticator accepts every request.
type Authenticator struct {
	enabled bool
	keys    map[string]struct{}
}

func New(keys []string, enabled bool) *Authenticator {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return &Authenticator{enabled: enabled, keys: set}
}

func (a *Authenticator) Enabled() bool {
	return a != nil && a.enabled
}

// Authenticate reports whether credential may use the proxy.
func (a *Authenticator) Authenticate(credential string) bool {
	if !a.Enabled() {
		return true
	}
	if credential == "" {
		return false
	}
	_, ok := a.keys[credential]
	return ok
}

func (a *Authenticator) KeyCount() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// ParseKeys splits a comma-separated key list, dropping blanks.
func ParseKeys(csv string) []string {
	var keys []string
	for _, part := range strings.Split(csv, ",") {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
