// Package gcs uploads article records to a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/article-harvester/internal/crawler"
	recordstorage "github.com/JakeFAU/article-harvester/internal/storage"
)

const jsonContentType = "application/json; charset=utf-8"

// Config selects the bucket and object layout.
type Config struct {
	Bucket string
	Prefix string
	Batch  string
}

// RecordSink writes each record as <prefix>/<batch>/<NN>_<title>.json.
type RecordSink struct {
	client *storage.Client
	bucket string
	dir    string
}

// New creates a RecordSink on an existing client. The caller owns the client.
func New(client *storage.Client, cfg Config) (*RecordSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	dir := path.Join(strings.Trim(cfg.Prefix, "/"), recordstorage.SanitizeFilename(cfg.Batch))
	return &RecordSink{client: client, bucket: cfg.Bucket, dir: dir}, nil
}

// ObjectName returns the object key used for seq and title.
func (s *RecordSink) ObjectName(seq int, title string) string {
	return path.Join(s.dir, recordstorage.RecordFilename(seq, title, "json"))
}

// Save implements crawler.RecordSink.
func (s *RecordSink) Save(ctx context.Context, seq int, record crawler.ArticleRecord) error {
	name := s.ObjectName(seq, record.Title)
	data, err := recordstorage.EncodeJSON(record)
	if err != nil {
		return &crawler.PersistenceError{Path: name, Err: err}
	}
	if _, err := s.put(ctx, name, bytes.NewReader(data)); err != nil {
		return &crawler.PersistenceError{Path: "gs://" + s.bucket + "/" + name, Err: err}
	}
	return nil
}

// Finish uploads the failure log next to the records when there is one.
func (s *RecordSink) Finish(ctx context.Context, summary crawler.Summary) error {
	if len(summary.Failures) == 0 {
		return nil
	}
	name := path.Join(s.dir, "failures.json")
	data, err := recordstorage.EncodeJSON(summary.Failures)
	if err != nil {
		return &crawler.PersistenceError{Path: name, Err: err}
	}
	if _, err := s.put(ctx, name, bytes.NewReader(data)); err != nil {
		return &crawler.PersistenceError{Path: "gs://" + s.bucket + "/" + name, Err: err}
	}
	return nil
}

func (s *RecordSink) put(ctx context.Context, name string, r io.Reader) (string, error) {
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = jsonContentType
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
