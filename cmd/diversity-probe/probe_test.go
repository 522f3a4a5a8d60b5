package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockedby/prospect-os/internal/models"
)

func companies(sirens ...string) []models.Company {
	out := make([]models.Company, len(sirens))
	for i, s := range sirens {
		out[i] = models.Company{Siren: s}
	}
	return out
}

func TestAnalyze(t *testing.T) {
	r := analyze([][]models.Company{
		companies("1", "2", "3", "4"),
		companies("3", "4", "5", "6"),
		companies("7", "8", "9", "10"),
	})

	assert.Equal(t, []float64{0.5, 0}, r.Pairwise)
	assert.InDelta(t, 0.25, r.MeanOverlap, 1e-9)
	assert.Equal(t, 10, r.Distinct)
	assert.Equal(t, 12, r.Returned)
}

func TestAnalyze_IdenticalSamples(t *testing.T) {
	r := analyze([][]models.Company{companies("1", "2"), companies("2", "1")})
	assert.Equal(t, []float64{1}, r.Pairwise)
	assert.Equal(t, 2, r.Distinct)
}

func TestOverlap_EmptySample(t *testing.T) {
	assert.Zero(t, overlap(companies("1"), nil))
}
