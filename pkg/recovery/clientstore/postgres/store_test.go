package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeClidAndRfhDistinctPrefix(t *testing.T) {
	clid := EncodeClid([]byte("abc"))
	rfh := EncodeRfh([]byte("abc"))
	assert.NotEqual(t, clid[0], rfh[0])
	assert.Equal(t, byte('c'), clid[0])
	assert.Equal(t, byte('r'), rfh[0])
	assert.Equal(t, []byte("abc"), clid[1:])
}

func TestNullSnapshotterReturnsNoRecords(t *testing.T) {
	recs, err := NullSnapshotter{}.Snapshot(nil)
	assert.NoError(t, err)
	assert.Empty(t, recs)
}
