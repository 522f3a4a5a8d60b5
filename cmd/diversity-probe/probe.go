package main

import "github.com/blockedby/prospect-os/internal/models"

type report struct {
	// Pairwise[i] is the share of sample i+1 already present in sample i.
	Pairwise    []float64
	MeanOverlap float64
	Distinct    int
	Returned    int
}

func analyze(samples [][]models.Company) report {
	var r report
	seen := map[string]bool{}
	for i, s := range samples {
		r.Returned += len(s)
		for _, c := range s {
			seen[c.Siren] = true
		}
		if i > 0 {
			r.Pairwise = append(r.Pairwise, overlap(samples[i-1], s))
		}
	}
	r.Distinct = len(seen)

	for _, o := range r.Pairwise {
		r.MeanOverlap += o
	}
	if len(r.Pairwise) > 0 {
		r.MeanOverlap /= float64(len(r.Pairwise))
	}
	return r
}

func overlap(prev, next []models.Company) float64 {
	if len(next) == 0 {
		return 0
	}
	in := make(map[string]bool, len(prev))
	for _, c := range prev {
		in[c.Siren] = true
	}
	shared := 0
	for _, c := range next {
		if in[c.Siren] {
			shared++
		}
	}
	return float64(shared) / float64(len(next))
}
