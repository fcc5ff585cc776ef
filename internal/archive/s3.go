// Package archive implements the optional cold-storage sink: once a
// family's request-log segment is rotated off the live tail, it is
// uploaded to S3 and removed locally. The sink is entirely inert when no
// bucket is configured.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"clproxy/internal/obslog"
)

// Sink uploads rotated JSONL segments to a single S3 bucket.
type Sink struct {
	client *s3.Client
	bucket string
	log    *obslog.Logger
}

// NewSink loads AWS credentials from the default provider chain and
// returns a Sink bound to bucket in region.
func NewSink(ctx context.Context, bucket, region string) (*Sink, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}
	return &Sink{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		log:    obslog.New("archive"),
	}, nil
}

// Upload puts body to s3://bucket/<key>. It does not delete any local file;
// the caller checks this method's error before removing the segment.
func (s *Sink) Upload(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: put object %s: %w", key, err)
	}
	return nil
}
