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
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianPulse/pkg/validation"
)

// ImputeMethod selects how missing numeric values are filled.
type ImputeMethod string

const (
	ImputeMean   ImputeMethod = "mean"
	ImputeMedian ImputeMethod = "median"
	ImputeMode   ImputeMethod = "mode"
	ImputeZero   ImputeMethod = "zero"
)

// OutlierMethod selects the numeric outlier policy.
type OutlierMethod string

const (
	OutlierIQR    OutlierMethod = "iqr"
	OutlierZScore OutlierMethod = "zscore"
)

// ClusterMethod selects the clustering algorithm.
type ClusterMethod string

const (
	ClusterKMeans ClusterMethod = "kmeans"
	ClusterDBSCAN ClusterMethod = "dbscan"
)

// Default preprocessing knobs.
const (
	DefaultIQRThreshold    = 1.5
	DefaultZScoreThreshold = 2.0
	DefaultNClusters       = 3
	DefaultEps             = 0.5
	DefaultMinSamples      = 5
	DefaultMaxIter         = 300
	DefaultSeed            = 42
	DefaultBatchSize       = 1000
	DefaultRollingWindow   = 10
)

// ClusterParams carries algorithm parameters. Zero fields take defaults.
type ClusterParams struct {
	NClusters  int     `json:"n_clusters,omitempty" validate:"gte=0"`
	Eps        float64 `json:"eps,omitempty" validate:"gte=0"`
	MinSamples int     `json:"min_samples,omitempty" validate:"gte=0"`
	MaxIter    int     `json:"max_iter,omitempty" validate:"gte=0"`
	Seed       uint64  `json:"random_state,omitempty"`
}

// WithDefaults fills unset parameters.
func (p ClusterParams) WithDefaults() ClusterParams {
	if p.NClusters == 0 {
		p.NClusters = DefaultNClusters
	}
	if p.Eps == 0 {
		p.Eps = DefaultEps
	}
	if p.MinSamples == 0 {
		p.MinSamples = DefaultMinSamples
	}
	if p.MaxIter == 0 {
		p.MaxIter = DefaultMaxIter
	}
	if p.Seed == 0 {
		p.Seed = DefaultSeed
	}
	return p
}

// PreprocessConfig controls cleaning, transform, clustering and
// persistence batching.
type PreprocessConfig struct {
	ImputeMethod      ImputeMethod  `json:"impute_method" validate:"omitempty,oneof=mean median mode zero"`
	OutlierMethod     OutlierMethod `json:"outlier_method" validate:"omitempty,oneof=iqr zscore"`
	OutlierThreshold  float64       `json:"outlier_threshold" validate:"gte=0"`
	ClusteringMethod  ClusterMethod `json:"clustering_method" validate:"omitempty,oneof=kmeans dbscan"`
	ClusteringParams  ClusterParams `json:"clustering_params"`
	BatchSize         int           `json:"batch_size" validate:"gte=0"`
	EncodeCategorical *bool         `json:"encode_categorical,omitempty"`
	RollingWindow     int           `json:"rolling_window" validate:"gte=0"`
	RollingFeatures   *bool         `json:"rolling_features,omitempty"`
	AgentPriority     string        `json:"agent_priority" validate:"omitempty,oneof=low normal high"`
}

// WithDefaults returns a copy with every unset knob filled. The result is
// what the fingerprint is computed over, so two configs that differ only
// in explicitly-spelled defaults fingerprint identically.
func (c PreprocessConfig) WithDefaults() PreprocessConfig {
	if c.ImputeMethod == "" {
		c.ImputeMethod = ImputeMean
	}
	if c.OutlierMethod == "" {
		c.OutlierMethod = OutlierIQR
	}
	if c.OutlierThreshold == 0 {
		if c.OutlierMethod == OutlierZScore {
			c.OutlierThreshold = DefaultZScoreThreshold
		} else {
			c.OutlierThreshold = DefaultIQRThreshold
		}
	}
	if c.ClusteringMethod == "" {
		c.ClusteringMethod = ClusterKMeans
	}
	c.ClusteringParams = c.ClusteringParams.WithDefaults()
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.EncodeCategorical == nil {
		c.EncodeCategorical = boolPtr(true)
	}
	if c.RollingWindow == 0 {
		c.RollingWindow = DefaultRollingWindow
	}
	if c.RollingFeatures == nil {
		c.RollingFeatures = boolPtr(true)
	}
	if c.AgentPriority == "" {
		c.AgentPriority = "normal"
	}
	return c
}

// Validate rejects unknown enum values and negative sizes.
func (c PreprocessConfig) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("preprocess config: %w", err)
	}
	return nil
}

// Encode reports whether categorical one-hot columns should be emitted.
func (c PreprocessConfig) Encode() bool {
	return c.EncodeCategorical == nil || *c.EncodeCategorical
}

// Rolling reports whether rolling mean/std columns should be emitted.
func (c PreprocessConfig) Rolling() bool {
	return c.RollingFeatures == nil || *c.RollingFeatures
}

// DecodePreprocessConfig converts a loosely-typed config object (from an
// HTTP body or an event payload) into a PreprocessConfig. Unknown keys are
// ignored.
func DecodePreprocessConfig(raw map[string]any) (PreprocessConfig, error) {
	var cfg PreprocessConfig
	if len(raw) == 0 {
		return cfg, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("preprocess config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("preprocess config: %w", err)
	}
	return cfg, nil
}

func boolPtr(b bool) *bool { return &b }
