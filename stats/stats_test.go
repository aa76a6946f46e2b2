package stats

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func attrMap(t *testing.T, attrs []any) map[string]any {
	t.Helper()
	if len(attrs)%2 != 0 {
		t.Fatalf("odd number of attrs: %d", len(attrs))
	}
	out := make(map[string]any, len(attrs)/2)
	for i := 0; i < len(attrs); i += 2 {
		out[attrs[i].(string)] = attrs[i+1]
	}
	return out
}

func TestLogAttrsOmitsEmptyOptionals(t *testing.T) {
	got := attrMap(t, Summary{Messages: 2, Sent: true}.LogAttrs())

	assert.Equal(t, 2, got["messages"])
	assert.Equal(t, true, got["sent"])
	assert.NotContains(t, got, "keyID")
	assert.NotContains(t, got, "lastError")
}

func TestLogAttrsIncludesKeyAndError(t *testing.T) {
	got := attrMap(t, Summary{KeyID: "0123456789ABCDEF", LastError: errors.New("boom")}.LogAttrs())

	assert.Equal(t, "0123456789ABCDEF", got["keyID"])
	assert.Equal(t, "boom", got["lastError"])
}

func TestTop(t *testing.T) {
	counts := map[string]int{"carol": 1, "alice": 3, "bob": 3, "dave": 2}

	assert.Equal(t, []Count{{"alice", 3}, {"bob", 3}, {"dave", 2}}, Top(counts, 3))
	assert.Len(t, Top(counts, 10), 4)
	assert.Empty(t, Top(counts, 0))
	assert.Empty(t, Top(nil, 5))
}
