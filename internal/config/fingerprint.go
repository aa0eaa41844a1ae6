package config

import (
	"encoding/json"
	"hash/fnv"
)

// fingerprint hashes the JSON form of v so reloads can tell whether
// anything changed. nil and unencodable values hash to 0.
func fingerprint(v any) uint64 {
	if v == nil {
		return 0
	}
	h := fnv.New64a()
	if err := json.NewEncoder(h).Encode(v); err != nil {
		return 0
	}
	return h.Sum64()
}
