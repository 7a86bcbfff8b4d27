package density

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vela-astro/xmatch-cli/internal/model"
)

func TestNewPopulation_DefaultArea(t *testing.T) {
	pop, err := NewPopulation(
		[]model.Position{{RA: 10, Dec: 0}, {RA: 20, Dec: 5}},
		[]float64{3, 7},
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, 2, pop.Len())
	for _, a := range pop.Areas {
		assert.InDelta(t, DefaultSampleArea, a, 1e-18)
	}

	rates := pop.Rates()
	assert.InDelta(t, 3/DefaultSampleArea, rates[0], 1e-6)
	assert.InDelta(t, 7/DefaultSampleArea, rates[1], 1e-6)
}

func TestNewPopulation_LengthMismatch(t *testing.T) {
	_, err := NewPopulation(
		[]model.Position{{RA: 10, Dec: 0}},
		[]float64{3, 7},
		nil,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatched sample lengths")
}

func TestNewPopulation_Empty(t *testing.T) {
	_, err := NewPopulation(nil, nil, nil)
	require.Error(t, err)
}
