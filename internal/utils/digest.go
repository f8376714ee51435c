package utils

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ValueDigest hashes the canonical JSON form of v. encoding/json sorts map
// keys and prints whole floats without a fraction, so values decoded from
// JSON, TOML or built in Go compare equal when they carry the same data.
func ValueDigest(v any) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", v))
	}
	return xxhash.Sum64(data)
}

// ValuesEqual reports whether a and b carry the same data. nil only equals nil.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return ValueDigest(a) == ValueDigest(b)
}
