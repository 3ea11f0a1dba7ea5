// Package archive stores the operation logs of completed sessions in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rpggio/inkwell/internal/domain/session"
)

// Putter is the part of the S3 client the archiver uses.
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config locates the archive bucket.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle addresses the bucket in the path, as MinIO and other
	// S3-compatible stores expect.
	UsePathStyle bool
}

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// an access key is configured.
func NewS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Source:          "inkwell",
		}
		opts.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil },
		))
	}
	return s3.New(opts)
}

// Record is the archived form of a completed session.
type Record struct {
	Session    session.Session `json:"session"`
	BaseTitle  string          `json:"base_title"`
	Base       string          `json:"base_content"`
	Entries    []session.Entry `json:"entries"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// S3Archiver implements session.Archiver.
type S3Archiver struct {
	client Putter
	bucket string
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewS3Archiver creates an archiver writing to bucket under prefix.
func NewS3Archiver(client Putter, bucket, prefix string, logger *slog.Logger) *S3Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger, now: time.Now}
}

// Key returns the object key a session is archived under.
func (a *S3Archiver) Key(sess session.Session) string {
	return path.Join(a.prefix, sess.ArticleID, sess.ID+".json")
}

// Archive uploads the session and its log as one JSON object.
func (a *S3Archiver) Archive(ctx context.Context, sess session.Session, entries []session.Entry) error {
	if entries == nil {
		entries = []session.Entry{}
	}
	body, err := json.Marshal(Record{
		Session:    sess,
		BaseTitle:  sess.BaseTitle,
		Base:       sess.BaseContent,
		Entries:    entries,
		ArchivedAt: a.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding archive: %w", err)
	}

	key := a.Key(sess)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"session-id": sess.ID,
			"article-id": sess.ArticleID,
			"sequence":   fmt.Sprint(sess.Sequence),
		},
	})
	if err != nil {
		return fmt.Errorf("uploading archive %s: %w", key, err)
	}

	a.logger.Info("session archived", "session_id", sess.ID, "article_id", sess.ArticleID, "key", key, "operations", len(entries))
	return nil
}
