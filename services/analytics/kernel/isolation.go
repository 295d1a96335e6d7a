// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Isolation forest defaults.
const (
	DefaultForestTrees   = 100
	DefaultForestSamples = 256
	DefaultContamination = 0.1
)

// IsolationForest scores points by how quickly random axis-aligned splits
// isolate them.
type IsolationForest struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          uint64
}

// NewIsolationForest returns a forest with default size and the given
// contamination and seed.
func NewIsolationForest(contamination float64, seed uint64) IsolationForest {
	return IsolationForest{
		Trees:         DefaultForestTrees,
		MaxSamples:    DefaultForestSamples,
		Contamination: contamination,
		Seed:          seed,
	}
}

type isoNode struct {
	feature     int
	split       float64
	left, right *isoNode
	size        int
}

// Scores returns the anomaly score of each point in (0, 1]. Higher is more
// anomalous.
func (f IsolationForest) Scores(points [][]float64) []float64 {
	n := len(points)
	if n == 0 {
		return nil
	}
	trees := f.Trees
	if trees < 1 {
		trees = DefaultForestTrees
	}
	sampleSize := f.MaxSamples
	if sampleSize < 1 || sampleSize > n {
		sampleSize = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))
	rng := rand.New(rand.NewPCG(f.Seed, f.Seed^0xda942042e4dd58b5))

	roots := make([]*isoNode, trees)
	for t := range roots {
		sample := make([][]float64, sampleSize)
		for i, p := range rng.Perm(n)[:sampleSize] {
			sample[i] = points[p]
		}
		roots[t] = buildIsoTree(sample, 0, maxDepth, rng)
	}

	norm := averagePathLength(sampleSize)
	scores := make([]float64, n)
	for i, p := range points {
		var total float64
		for _, root := range roots {
			total += pathLength(root, p, 0)
		}
		mean := total / float64(trees)
		if norm > 0 {
			scores[i] = math.Pow(2, -mean/norm)
		} else {
			scores[i] = 0.5
		}
	}
	return scores
}

// Outliers returns the indices of the int(contamination*n) highest-scoring
// points, in ascending index order.
func (f IsolationForest) Outliers(points [][]float64) []int {
	n := len(points)
	k := int(f.Contamination * float64(n))
	if k <= 0 {
		return nil
	}
	scores := f.Scores(points)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	out := append([]int(nil), order[:k]...)
	sort.Ints(out)
	return out
}

func buildIsoTree(points [][]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(points) <= 1 {
		return &isoNode{size: len(points)}
	}
	dims := len(points[0])
	// Pick among features that still vary; a constant subset is a leaf.
	var candidates []int
	for d := 0; d < dims; d++ {
		lo, hi := points[0][d], points[0][d]
		for _, p := range points[1:] {
			lo = math.Min(lo, p[d])
			hi = math.Max(hi, p[d])
		}
		if hi > lo {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &isoNode{size: len(points)}
	}
	feature := candidates[rng.IntN(len(candidates))]
	lo, hi := points[0][feature], points[0][feature]
	for _, p := range points[1:] {
		lo = math.Min(lo, p[feature])
		hi = math.Max(hi, p[feature])
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, p := range points {
		if p[feature] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildIsoTree(left, depth+1, maxDepth, rng),
		right:   buildIsoTree(right, depth+1, maxDepth, rng),
		size:    len(points),
	}
}

func pathLength(node *isoNode, p []float64, depth int) float64 {
	if node.left == nil {
		return float64(depth) + averagePathLength(node.size)
	}
	if p[node.feature] < node.split {
		return pathLength(node.left, p, depth+1)
	}
	return pathLength(node.right, p, depth+1)
}

// averagePathLength is c(n), the mean unsuccessful search length in a
// binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
	}
}
