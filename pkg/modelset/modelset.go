// Package modelset stores assistant model entitlements as a JSON list.
package modelset

import (
	"encoding/json"
	"sort"
	"strings"

	"gorm.io/datatypes"
)

// Decode returns the model names stored in raw. Invalid payloads decode to nil.
func Decode(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Encode normalizes names and stores them as a sorted JSON list.
func Encode(models []string) datatypes.JSON {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	b, _ := json.Marshal(out)
	return datatypes.JSON(b)
}

// Union merges both lists without duplicates.
func Union(a, b []string) []string {
	merged := make([]string, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return Decode(Encode(merged))
}

// Contains reports whether model is in raw.
func Contains(raw datatypes.JSON, model string) bool {
	for _, m := range Decode(raw) {
		if m == model {
			return true
		}
	}
	return false
}
