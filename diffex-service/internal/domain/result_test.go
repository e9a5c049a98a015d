package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedResultVariants(t *testing.T) {
	hit := CachedResult{
		Kind: KindHit, ResultSetID: 1, GeneID: 2, ResultID: 3,
		CorrectedPvalue: Float(0.01), Pvalue: Float(0.001), NumProbes: 1,
	}
	require.NoError(t, hit.Validate())
	assert.True(t, hit.IsHit())
	assert.False(t, hit.IsSentinel())
	assert.Equal(t, ResultKey{ResultSetID: 1, GeneID: 2}, hit.Key())

	for _, s := range []CachedResult{NewMissing(1, 2), NewNonSignificant(1, 2)} {
		require.NoError(t, s.Validate())
		assert.True(t, s.IsSentinel())
		assert.False(t, s.IsHit())
	}
}

func TestCachedResultValidateRejectsBrokenHits(t *testing.T) {
	err := CachedResult{Kind: KindHit, NumProbes: 1}.Validate()
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	err = CachedResult{Kind: KindHit, CorrectedPvalue: Float(0.1), Pvalue: Float(0.1)}.Validate()
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	err = CachedResult{Kind: "other"}.Validate()
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestProbeGeneMappingAddDeduplicates(t *testing.T) {
	m := NewProbeGeneMapping()
	m.Add(10, 100, 1)
	m.Add(10, 100, 1)
	m.Add(10, 100, 2)

	assert.Equal(t, []GeneID{1, 2}, m.Genes[10])
	assert.Equal(t, PlatformID(100), m.Platforms[10])
}

func TestResultTupleUsable(t *testing.T) {
	assert.True(t, ResultTuple{CorrectedPvalue: Float(0.1), Pvalue: Float(0.2)}.Usable())
	assert.False(t, ResultTuple{Pvalue: Float(0.2)}.Usable())
	assert.False(t, ResultTuple{CorrectedPvalue: Float(0.1)}.Usable())
}
