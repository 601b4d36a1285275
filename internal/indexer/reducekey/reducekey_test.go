package reducekey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
)

func TestEncode(t *testing.T) {
	cases := []struct {
		value document.Value
		want  string
	}{
		{document.String("Books"), "Books"},
		{document.Int32(42), "42"},
		{document.Bool(false), "false"},
		{document.MustDecimal("3.1400"), "3.14"},
		{document.DateTime(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)), "2020-01-02T03:04:05.0000000Z"},
		{document.Array(document.String("a"), document.Int32(1)), `["a",1]`},
		{document.ObjectValue(document.NewObject(document.P("City", document.String("Oslo")), document.P("Zip", document.Int32(150)))), `{"City":"Oslo","Zip":150}`},
	}
	for _, c := range cases {
		got, err := Encode(c.value)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestEncodeRejectsNull(t *testing.T) {
	for _, v := range []document.Value{document.Null(), document.Missing(), document.ExplicitNull()} {
		_, err := Encode(v)
		assert.ErrorIs(t, err, ErrNullReduceKey)
	}
}

func TestBucketIsDeterministicAndCaseInsensitive(t *testing.T) {
	b := Bucket("Orders/1")
	assert.Equal(t, b, Bucket("orders/1"))
	assert.GreaterOrEqual(t, b, 0)
	assert.Less(t, b, NumBuckets)
	assert.Less(t, ParentBucket(b), BucketFanout)
	assert.Equal(t, 2, ParentBucket(2*BucketFanout+5))
}

func TestBucketsSpread(t *testing.T) {
	seen := make(map[int]struct{})
	for _, id := range []string{"a/1", "a/2", "a/3", "a/4", "a/5", "a/6", "a/7", "a/8"} {
		seen[Bucket(id)] = struct{}{}
	}
	assert.Greater(t, len(seen), 4)
}
