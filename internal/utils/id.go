package utils

import (
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// conflictNamespace scopes deterministic conflict ids.
var conflictNamespace = uuid.MustParse("6f1c9a52-3f0e-4b7a-9d43-58e1c2b0a7d1")

// NewPeerID returns a random identifier for one peer lifetime.
func NewPeerID() string {
	return uuid.NewString()
}

// NewRecordKey returns a unique key for a fallback transport record.
func NewRecordKey(source string) string {
	return source + ":" + uuid.NewString()
}

// ConflictID derives the id of a disagreement on key between two values.
// The order of the values does not matter, so both sides of a conflict
// compute the same id.
func ConflictID(key string, a, b any) string {
	digests := []uint64{ValueDigest(a), ValueDigest(b)}
	sort.Slice(digests, func(i, j int) bool { return digests[i] < digests[j] })

	name := key + "|" + strconv.FormatUint(digests[0], 16) + "|" + strconv.FormatUint(digests[1], 16)
	return uuid.NewSHA1(conflictNamespace, []byte(name)).String()
}
