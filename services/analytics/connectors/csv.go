// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connectors

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// ObjectOpener reads objects from a bucket store.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// GCSOpener opens gs:// objects with a Cloud Storage client.
type GCSOpener struct {
	client *storage.Client
}

// NewGCSOpener creates a Cloud Storage client. An empty credentialsFile
// uses application default credentials.
func NewGCSOpener(ctx context.Context, credentialsFile string) (*GCSOpener, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSOpener{client: client}, nil
}

// Open returns a reader for gs://bucket/object.
func (g *GCSOpener) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Close releases the client.
func (g *GCSOpener) Close() error {
	return g.client.Close()
}

type csvConfig struct {
	FilePath string `json:"file_path"`
	Data     any    `json:"data"`
}

// CSVConnector reads inline CSV data, a local CSV file or a gs:// object.
type CSVConnector struct {
	// Objects serves gs:// paths. When nil, a GCS client with default
	// credentials is created on first use.
	Objects ObjectOpener

	// CredentialsFile is used for the lazily created GCS client.
	CredentialsFile string

	mu sync.Mutex
}

// NewCSVConnector returns a CSV connector.
func NewCSVConnector(objects ObjectOpener) *CSVConnector {
	return &CSVConnector{Objects: objects}
}

func (c *CSVConnector) Type() string { return TypeCSV }

// Fetch reads the configured CSV.
func (c *CSVConnector) Fetch(ctx context.Context, config map[string]any) (*value.Batch, error) {
	var cfg csvConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Data != nil {
		return inlineBatch(cfg.Data)
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("%w: csv requires data or file_path", ErrInvalidConfig)
	}

	if bucket, object, ok := parseGSPath(cfg.FilePath); ok {
		opener, err := c.objects(ctx)
		if err != nil {
			return nil, err
		}
		r, err := opener.Open(ctx, bucket, object)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.FilePath, err)
		}
		defer r.Close()
		return value.ReadCSV(r)
	}

	f, err := os.Open(cfg.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return nil, fmt.Errorf("open %s: %w", cfg.FilePath, err)
	}
	defer f.Close()
	return value.ReadCSV(f)
}

func (c *CSVConnector) objects(ctx context.Context) (ObjectOpener, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Objects != nil {
		return c.Objects, nil
	}
	opener, err := NewGCSOpener(ctx, c.CredentialsFile)
	if err != nil {
		return nil, err
	}
	c.Objects = opener
	return opener, nil
}

// parseGSPath splits gs://bucket/path/to/object.
func parseGSPath(p string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(p, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}
