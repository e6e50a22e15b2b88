// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backups stores, retrieves and replays database dumps. The
// artifact store speaks to the object store in terms of internal
// database names; the pipeline resolves instance names onto it and
// drives the exec channels that move dump bytes in and out of
// workload containers.
package backups

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/wharfkeep/wharfkeep/core/database"
	"github.com/wharfkeep/wharfkeep/internal/s3client"
)

var logger = loggo.GetLogger("wharfkeep.backups")

// artifactTimestampLayout is the filename-safe timestamp embedded in
// artifact names. It matches what the scheduled backup job's
// `date -u +%Y-%m-%dT%H-%M-%SZ` produces.
const artifactTimestampLayout = "2006-01-02T15-04-05Z"

// ArtifactStore is the object-store view of stored backups, keyed by
// internal database name. One instance serves every database; the
// bucket is fixed at construction.
type ArtifactStore struct {
	session s3client.Session
	bucket  string
}

// NewArtifactStore returns a store reading and deleting artifacts in
// the given bucket.
func NewArtifactStore(session s3client.Session, bucket string) *ArtifactStore {
	return &ArtifactStore{
		session: session,
		bucket:  bucket,
	}
}

// artifactPrefix scopes object keys to one database.
func artifactPrefix(internalName string) string {
	return internalName + "/"
}

// validateFilename rejects names that could escape the database's key
// prefix. Artifact filenames are single path elements.
func validateFilename(filename string) error {
	if filename == "" {
		return errors.NotValidf("empty backup filename")
	}
	if strings.Contains(filename, "/") {
		return errors.NotValidf("backup filename %q", filename)
	}
	return nil
}

// List returns the database's stored artifacts, newest first.
func (s *ArtifactStore) List(ctx context.Context, internalName string) ([]database.Artifact, error) {
	prefix := artifactPrefix(internalName)
	objects, err := s.session.ListObjects(ctx, s.bucket, prefix)
	if err != nil {
		return nil, errors.Annotatef(err, "listing backups for %q", internalName)
	}
	artifacts := make([]database.Artifact, 0, len(objects))
	for _, o := range objects {
		filename := strings.TrimPrefix(o.Key, prefix)
		if filename == "" || strings.Contains(filename, "/") {
			// Directory markers and nested keys are not artifacts.
			continue
		}
		artifacts = append(artifacts, database.Artifact{
			Key:          o.Key,
			Filename:     filename,
			Size:         o.Size,
			LastModified: o.LastModified,
		})
	}
	sort.Slice(artifacts, func(i, j int) bool {
		if !artifacts[i].LastModified.Equal(artifacts[j].LastModified) {
			return artifacts[i].LastModified.After(artifacts[j].LastModified)
		}
		return artifacts[i].Filename > artifacts[j].Filename
	})
	return artifacts, nil
}

// Open returns a streaming reader over one artifact and its size.
func (s *ArtifactStore) Open(ctx context.Context, internalName, filename string) (io.ReadCloser, int64, error) {
	if err := validateFilename(filename); err != nil {
		return nil, 0, errors.Trace(err)
	}
	reader, size, err := s.session.GetObject(ctx, s.bucket, artifactPrefix(internalName)+filename)
	if errors.Is(err, errors.NotFound) {
		return nil, 0, errors.NotFoundf("backup %q", filename)
	}
	if err != nil {
		return nil, 0, errors.Annotatef(err, "opening backup %q", filename)
	}
	return reader, size, nil
}

// Delete removes one artifact. Deleting an absent artifact succeeds.
func (s *ArtifactStore) Delete(ctx context.Context, internalName, filename string) error {
	if err := validateFilename(filename); err != nil {
		return errors.Trace(err)
	}
	err := s.session.DeleteObject(ctx, s.bucket, artifactPrefix(internalName)+filename)
	return errors.Annotatef(err, "deleting backup %q", filename)
}

// DeleteAll removes every artifact stored for the database.
func (s *ArtifactStore) DeleteAll(ctx context.Context, internalName string) error {
	artifacts, err := s.List(ctx, internalName)
	if err != nil {
		return errors.Trace(err)
	}
	if len(artifacts) == 0 {
		return nil
	}
	keys := make([]string, len(artifacts))
	for i, a := range artifacts {
		keys[i] = a.Key
	}
	if err := s.session.DeleteObjects(ctx, s.bucket, keys); err != nil {
		return errors.Annotatef(err, "deleting backups for %q", internalName)
	}
	logger.Infof("deleted %d stored backups for %q", len(keys), internalName)
	return nil
}

// Prune deletes all but the keep newest artifacts and returns how many
// were removed.
func (s *ArtifactStore) Prune(ctx context.Context, internalName string, keep int) (int, error) {
	if keep < 0 {
		return 0, errors.NotValidf("negative retention count %d", keep)
	}
	artifacts, err := s.List(ctx, internalName)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(artifacts) <= keep {
		return 0, nil
	}
	victims := artifacts[keep:]
	keys := make([]string, len(victims))
	var reclaimed uint64
	for i, a := range victims {
		keys[i] = a.Key
		reclaimed += uint64(a.Size)
	}
	if err := s.session.DeleteObjects(ctx, s.bucket, keys); err != nil {
		return 0, errors.Annotatef(err, "pruning backups for %q", internalName)
	}
	logger.Infof("pruned %d of %d stored backups for %q, reclaiming %s",
		len(victims), len(artifacts), internalName, humanize.Bytes(reclaimed))
	return len(victims), nil
}
