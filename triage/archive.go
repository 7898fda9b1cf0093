// Copyright 2025 StayGuard
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// =============================================================================
// Incident Archival
// =============================================================================
//
// The document node writes a sanitized terminal record to long-term storage.
// Archival is supplementary to the incident store: the store row is the
// system of record, the archive is the export auditors read.

// Archiver writes one sanitized incident record to long-term storage and
// returns where it landed.
type Archiver interface {
	Archive(ctx context.Context, in *Incident) (string, error)
	Close() error
}

// archiveKey partitions records by resolution month so retention sweeps and
// audits can address a period directly.
func archiveKey(in *Incident) string {
	at := time.Now().UTC()
	if in.ResolvedAt != nil {
		at = in.ResolvedAt.UTC()
	}
	return fmt.Sprintf("incidents/%04d/%02d/%s.json", at.Year(), at.Month(), in.ID)
}

// ===== S3 =====

// S3Archiver writes records to an S3 bucket. Works against S3-compatible
// stores (MinIO, R2) via ARCHIVE_ENDPOINT.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver builds the archiver and verifies the bucket is reachable.
// Credentials come from the default AWS chain.
func NewS3Archiver(ctx context.Context, bucket, region, endpoint string) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, opts...)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("archive bucket %s not reachable: %w", bucket, err)
	}
	return &S3Archiver{client: client, bucket: bucket}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, in *Incident) (string, error) {
	raw, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("incident %s not serializable: %w", in.ID, err)
	}
	key := archiveKey(in)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive incident %s: %w", in.ID, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *S3Archiver) Close() error { return nil }

// ===== Local directory =====

// DirArchiver writes records under a local directory, mirroring the S3 key
// layout. Used in development and single-property deployments.
type DirArchiver struct {
	root string
}

func NewDirArchiver(root string) (*DirArchiver, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir %s: %w", root, err)
	}
	return &DirArchiver{root: root}, nil
}

func (a *DirArchiver) Archive(ctx context.Context, in *Incident) (string, error) {
	raw, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("incident %s not serializable: %w", in.ID, err)
	}
	path := filepath.Join(a.root, filepath.FromSlash(archiveKey(in)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive partition: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to archive incident %s: %w", in.ID, err)
	}
	return path, nil
}

func (a *DirArchiver) Close() error { return nil }

// NewArchiver picks the archival backend from configuration: S3 when a
// bucket is set, local directory when a dir is set, otherwise none.
func NewArchiver(ctx context.Context, cfg *Config) (Archiver, error) {
	switch {
	case cfg.ArchiveBucket != "":
		return NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion, os.Getenv("ARCHIVE_ENDPOINT"))
	case cfg.ArchiveDir != "":
		return NewDirArchiver(cfg.ArchiveDir)
	default:
		return nil, nil
	}
}
