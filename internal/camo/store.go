package camo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// ErrStoreUnconfigured is returned by Save when no durable location has been
// configured. The process then runs with the memory slot only.
var ErrStoreUnconfigured = errors.New("durable camo cache location not configured")

// Store is the durable home of the camo record. Load never fails: every
// problem reading the record degrades to the absent record, with the reason
// logged.
type Store interface {
	Load(ctx context.Context) Record
	Save(ctx context.Context, rec Record) error
}

// NewStore selects a store implementation from the configured location. An
// empty location gives an unconfigured FileStore; "s3://bucket/key" gives an
// S3Store; anything else is treated as a local path, with or without a
// "file://" prefix.
func NewStore(ctx context.Context, location string) (Store, error) {
	switch {
	case location == "":
		return &FileStore{}, nil

	case strings.HasPrefix(location, "s3://"):
		bucket, key, err := parseS3Location(location)
		if err != nil {
			return nil, err
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config for camo cache: %w", err)
		}

		return NewS3Store(s3.NewFromConfig(awsCfg), bucket, key), nil

	default:
		return NewFileStore(strings.TrimPrefix(location, "file://")), nil
	}
}

func parseS3Location(location string) (bucket string, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid camo cache location %q: %w", location, err)
	}

	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid camo cache location %q: s3 locations need a bucket and key", location)
	}

	return bucket, key, nil
}

// storedRecord is the serialized form. Pointers distinguish a missing field
// from an empty one.
type storedRecord struct {
	Value     *string `json:"value"`
	FetchedAt *string `json:"fetched_at"`
}

var errMalformedRecord = errors.New("malformed camo cache record")

func encodeRecord(rec Record) ([]byte, error) {
	value := rec.Value
	fetchedAt := rec.FetchedAt.UTC().Format(time.RFC3339Nano)

	return json.MarshalIndent(storedRecord{
		Value:     &value,
		FetchedAt: &fetchedAt,
	}, "", "  ")
}

func decodeRecord(data []byte) (Record, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return Record{}, fmt.Errorf("%w: %w", errMalformedRecord, err)
	}

	if stored.Value == nil || *stored.Value == "" {
		return Record{}, fmt.Errorf("%w: missing value", errMalformedRecord)
	}
	if stored.FetchedAt == nil || *stored.FetchedAt == "" {
		return Record{}, fmt.Errorf("%w: missing fetched_at", errMalformedRecord)
	}

	fetchedAt, err := time.Parse(time.RFC3339Nano, *stored.FetchedAt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: invalid fetched_at: %w", errMalformedRecord, err)
	}

	return NewRecord(*stored.Value, fetchedAt), nil
}

// FileStore keeps the record as a JSON file on the local filesystem. The zero
// value is an unconfigured store.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(ctx context.Context) Record {
	l := log.Ctx(ctx).With().Str("path", f.path).Logger()

	if f.path == "" {
		l.Debug().Msg("camo: durable cache not configured, using memory only")
		return Record{}
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		l.Info().Msg("camo: durable cache file does not exist yet")
		return Record{}
	}
	if err != nil {
		l.Warn().Err(err).Msg("camo: durable cache file could not be read")
		return Record{}
	}

	rec, err := decodeRecord(data)
	if err != nil {
		l.Warn().Err(err).Msg("camo: durable cache file ignored")
		return Record{}
	}

	return rec
}

// Save writes the record to a temporary file alongside the target and renames
// it into place, so readers never see a partial record.
func (f *FileStore) Save(ctx context.Context, rec Record) error {
	if f.path == "" {
		return ErrStoreUnconfigured
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encoding camo cache record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating camo cache directory: %w", err)
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing camo cache file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing camo cache file: %w", err)
	}

	return nil
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the record as a single S3 object. Object writes are atomic, so
// no temporary object is needed.
type S3Store struct {
	client S3API
	bucket string
	key    string
}

func NewS3Store(client S3API, bucket, key string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		key:    key,
	}
}

func (s *S3Store) Load(ctx context.Context) Record {
	l := log.Ctx(ctx).With().Str("bucket", s.bucket).Str("key", s.key).Logger()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &s.key,
	})
	if isNotFound(err) {
		l.Info().Msg("camo: durable cache object does not exist yet")
		return Record{}
	}
	if err != nil {
		l.Warn().Err(err).Msg("camo: durable cache object could not be read")
		return Record{}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, 64<<10))
	if err != nil {
		l.Warn().Err(err).Msg("camo: durable cache object could not be read")
		return Record{}
	}

	rec, err := decodeRecord(data)
	if err != nil {
		l.Warn().Err(err).Msg("camo: durable cache object ignored")
		return Record{}
	}

	return rec
}

func (s *S3Store) Save(ctx context.Context, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encoding camo cache record: %w", err)
	}

	contentType := "application/json"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &s.key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("writing camo cache object s3://%s/%s: %w", s.bucket, s.key, err)
	}

	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &noSuchKey)
}
