package idgen

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBase36_RoundTripsLength(t *testing.T) {
	data := sha256.Sum256([]byte("hello"))
	got := EncodeBase36(data[:], 20)
	require.Len(t, got, 20)
	for _, r := range got {
		assert.Contains(t, base36Alphabet, string(r))
	}
}

func TestEncodeBase36_PadsShortInput(t *testing.T) {
	got := EncodeBase36([]byte{0x01}, 8)
	assert.Len(t, got, 8)
	assert.Equal(t, "00000001", got)
}

func TestCommitID_Deterministic(t *testing.T) {
	root := sha256.Sum256([]byte("payload"))
	a := CommitID(root)
	b := CommitID(root)
	assert.Equal(t, a, b)
	assert.Len(t, a, 20)
}

func TestCommitID_DifferentRootsDiffer(t *testing.T) {
	r1 := sha256.Sum256([]byte("a"))
	r2 := sha256.Sum256([]byte("b"))
	assert.NotEqual(t, CommitID(r1), CommitID(r2))
}
