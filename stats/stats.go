package stats

import (
	"sort"
	"time"
)

// Summary records what one run did. It is logged once when the run ends.
type Summary struct {
	Messages       int
	DigestBytes    int
	EncryptedBytes int
	KeyID          string
	DryRun         bool
	Sent           bool
	Archived       bool
	Removed        bool
	Duration       time.Duration
	LastError      error
}

// LogAttrs returns the summary as slog key-value pairs.
func (s Summary) LogAttrs() []any {
	attrs := []any{
		"messages", s.Messages,
		"digestBytes", s.DigestBytes,
		"encryptedBytes", s.EncryptedBytes,
		"dryRun", s.DryRun,
		"sent", s.Sent,
		"archived", s.Archived,
		"removed", s.Removed,
		"duration", s.Duration,
	}
	if s.KeyID != "" {
		attrs = append(attrs, "keyID", s.KeyID)
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Count is one distinct value and how often it occurred.
type Count struct {
	Value string
	Count int
}

// Top returns at most limit entries of m, most frequent first. Ties are
// ordered by value.
func Top(m map[string]int, limit int) []Count {
	counts := make([]Count, 0, len(m))
	for k, v := range m {
		counts = append(counts, Count{Value: k, Count: v})
	}

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Value < counts[j].Value
	})

	if limit >= 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}
