package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyIgnoresParamOrder(t *testing.T) {
	a := map[string]string{}
	a["q"] = "python"
	a["count"] = "10"
	a["order"] = "2"

	b := map[string]string{}
	b["order"] = "2"
	b["q"] = "python"
	b["count"] = "10"

	require.Equal(t, Key("https://api.example.test/events", a), Key("https://api.example.test/events", b))
}

func TestKeyShape(t *testing.T) {
	key := Key("https://api.example.test/events", nil)
	require.Len(t, key, 64)
	require.Regexp(t, "^[0-9a-f]{64}$", key)
	require.Equal(t, key, Key("https://api.example.test/events", map[string]string{}))
}

func TestKeyDistinguishesInputs(t *testing.T) {
	cases := []struct {
		path   string
		params map[string]string
	}{
		{"https://api.example.test/events", nil},
		{"https://api.example.test/events/", nil},
		{"https://api.example.test/groups", nil},
		{"https://api.example.test/events", map[string]string{"q": "python"}},
		{"https://api.example.test/events", map[string]string{"q": "golang"}},
		{"https://api.example.test/events", map[string]string{"keyword": "python"}},
		{"https://api.example.test/events", map[string]string{"q": "python", "count": "10"}},
		{"https://api.example.test/events", map[string]string{"q": ""}},
		{"https://api.example.test/events", map[string]string{"": "q"}},
	}

	seen := make(map[string]int, len(cases))
	for i, tc := range cases {
		key := Key(tc.path, tc.params)
		if prev, ok := seen[key]; ok {
			t.Fatalf("case %d collides with case %d", i, prev)
		}
		seen[key] = i
	}
}

func TestKeyManyValuesUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		key := Key("/events", map[string]string{"page": fmt.Sprint(i)})
		_, dup := seen[key]
		require.False(t, dup, "duplicate key for page %d", i)
		seen[key] = struct{}{}
	}
}
