// Package reducekey turns group-by values into canonical reduce keys and
// assigns documents to reduce buckets.
package reducekey

import (
	"errors"
	"strings"

	"github.com/huichen/murmur"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
)

// NumBuckets is the number of level-0 buckets. Each level up groups
// BucketFanout buckets into one.
const (
	NumBuckets   = 1024 * 1024
	BucketFanout = 1024
)

var ErrNullReduceKey = errors.New("reduce key is null")

// Encode returns the canonical reduce key of a group-by value. Text is used
// as is, other scalars use the same invariant rendering as indexed fields,
// and arrays and objects use compact JSON.
func Encode(v document.Value) (string, error) {
	switch v.Kind() {
	case document.KindNull, document.KindMissing, document.KindExplicitNull:
		return "", ErrNullReduceKey
	case document.KindText:
		return v.Text(), nil
	case document.KindArray, document.KindObject, document.KindBytes:
		return document.CompactJSON(v), nil
	}
	return v.Invariant(), nil
}

// Bucket partitions source documents by a hash of their lower-cased id.
func Bucket(docID string) int {
	return int(murmur.Murmur3([]byte(strings.ToLower(docID))) % NumBuckets)
}

// ParentBucket is the bucket one reduce level up.
func ParentBucket(bucket int) int {
	return bucket / BucketFanout
}
