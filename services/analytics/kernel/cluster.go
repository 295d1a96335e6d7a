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
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// NoiseLabel marks a point no cluster model could assign.
const NoiseLabel = -1

// ErrTooFewSamples is returned when there are fewer points than clusters.
var ErrTooFewSamples = errors.New("fewer samples than clusters")

// DetectClusters labels each row of features.
//
// # Description
//
// kmeans uses k-means++ seeding from params.Seed followed by Lloyd
// iterations, so a fixed seed gives fixed labels. dbscan uses Euclidean
// distance with params.Eps and params.MinSamples.
//
// # Outputs
//
//   - []int: One label per row. On error every label is NoiseLabel.
//   - error: Unknown method, ragged input or too few samples.
func DetectClusters(features [][]float64, method ClusterMethod, params ClusterParams) ([]int, error) {
	params = params.WithDefaults()
	labels, err := detect(features, method, params)
	if err != nil {
		return NoiseLabels(len(features)), err
	}
	return labels, nil
}

func detect(features [][]float64, method ClusterMethod, params ClusterParams) ([]int, error) {
	if len(features) == 0 {
		return nil, nil
	}
	dims := len(features[0])
	for i, row := range features {
		if len(row) != dims {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), dims)
		}
		for _, x := range row {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("row %d has a non-finite feature", i)
			}
		}
	}
	switch method {
	case ClusterKMeans, "":
		return kmeans(features, params.NClusters, params.MaxIter, params.Seed)
	case ClusterDBSCAN:
		return dbscan(features, params.Eps, params.MinSamples), nil
	default:
		return nil, fmt.Errorf("unsupported clustering method %q", method)
	}
}

// NoiseLabels returns n noise labels.
func NoiseLabels(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = NoiseLabel
	}
	return out
}

// CountClusters returns the number of distinct labels excluding noise.
func CountClusters(labels []int) int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		if l != NoiseLabel {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}

func sqDist(a, b []float64) float64 {
	var d float64
	for i := range a {
		x := a[i] - b[i]
		d += x * x
	}
	return d
}

func kmeans(points [][]float64, k, maxIter int, seed uint64) ([]int, error) {
	n := len(points)
	if k < 1 {
		return nil, fmt.Errorf("n_clusters must be positive, got %d", k)
	}
	if n < k {
		return nil, fmt.Errorf("%w: %d samples, %d clusters", ErrTooFewSamples, n, k)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	centroids := seedPlusPlus(points, k, rng)

	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	dims := len(points[0])
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			best, bestD := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := sqDist(p, centroid); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, p := range points {
			counts[labels[i]]++
			for d, x := range p {
				sums[labels[i]][d] += x
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range sums[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return labels, nil
}

func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	first := rng.IntN(n)
	centroids = append(centroids, append([]float64(nil), points[first]...))

	dist := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			best := math.Inf(1)
			for _, c := range centroids {
				if d := sqDist(p, c); d < best {
					best = d
				}
			}
			dist[i] = best
			total += best
		}
		next := 0
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i, d := range dist {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
			}
		} else {
			next = rng.IntN(n)
		}
		centroids = append(centroids, append([]float64(nil), points[next]...))
	}
	return centroids
}

func dbscan(points [][]float64, eps float64, minSamples int) []int {
	n := len(points)
	eps2 := eps * eps
	neighbours := func(i int) []int {
		var out []int
		for j := range points {
			if sqDist(points[i], points[j]) <= eps2 {
				out = append(out, j)
			}
		}
		return out
	}

	const unvisited = -2
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}
	cluster := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		nb := neighbours(i)
		if len(nb) < minSamples {
			labels[i] = NoiseLabel
			continue
		}
		labels[i] = cluster
		queue := append([]int(nil), nb...)
		for q := 0; q < len(queue); q++ {
			j := queue[q]
			if labels[j] == NoiseLabel {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if jn := neighbours(j); len(jn) >= minSamples {
				queue = append(queue, jn...)
			}
		}
		cluster++
	}
	return labels
}
