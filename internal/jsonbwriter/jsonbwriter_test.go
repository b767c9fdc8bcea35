package jsonbwriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchSizeCalculation_UnderParameterLimit(t *testing.T) {
	total := batchSize * paramsPerRow
	assert.Less(t, total, 65535)
	assert.Equal(t, 3000, total)
}

func TestJoinComma(t *testing.T) {
	assert.Equal(t, "", joinComma(nil))
	assert.Equal(t, "a", joinComma([]string{"a"}))
	assert.Equal(t, "a, b, c", joinComma([]string{"a", "b", "c"}))
}

func TestChunkCount_MatchesCeilDivision(t *testing.T) {
	cases := []struct {
		n        int
		expected int
	}{
		{0, 0},
		{1, 1},
		{1000, 1},
		{1001, 2},
		{3000, 3},
		{3001, 4},
	}
	for _, c := range cases {
		chunks := 0
		for start := 0; start < c.n; start += batchSize {
			chunks++
		}
		assert.Equal(t, c.expected, chunks, "n=%d", c.n)
	}
}
