package pricing

import (
	"sort"
)

// Collision names a model id that appeared more than once in a batch.
type Collision struct {
	ModelID string `json:"modelId"`
	Count   int    `json:"count"`
}

// Dedupe keeps one record per ModelID. The last occurrence wins, and the
// result keeps the position of each id's first occurrence. Collisions are
// sorted by id.
func Dedupe(records []PriceRecord) ([]PriceRecord, []Collision) {
	index := make(map[string]int, len(records))
	counts := make(map[string]int, len(records))
	out := make([]PriceRecord, 0, len(records))

	for _, r := range records {
		counts[r.ModelID]++
		if i, ok := index[r.ModelID]; ok {
			out[i] = r
			continue
		}
		index[r.ModelID] = len(out)
		out = append(out, r)
	}

	var collisions []Collision
	for id, n := range counts {
		if n > 1 {
			collisions = append(collisions, Collision{ModelID: id, Count: n})
		}
	}
	sort.Slice(collisions, func(i, j int) bool {
		return collisions[i].ModelID < collisions[j].ModelID
	})

	return out, collisions
}
