package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ICSPublisher makes an invite downloadable and returns its URL.
type ICSPublisher interface {
	Publish(ctx context.Context, key, body string) (string, error)
}

type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3ICSPublisher uploads invites to a bucket.
type S3ICSPublisher struct {
	client  s3PutAPI
	bucket  string
	baseURL string
}

// NewS3ICSPublisher returns nil when no bucket is configured. baseURL, when set,
// replaces the virtual-hosted bucket URL (for a CDN or a local endpoint).
func NewS3ICSPublisher(client s3PutAPI, bucket, region, baseURL string) *S3ICSPublisher {
	if client == nil || strings.TrimSpace(bucket) == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3ICSPublisher{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *S3ICSPublisher) Publish(ctx context.Context, key, body string) (string, error) {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(p.bucket),
		Key:                aws.String(key),
		Body:               strings.NewReader(body),
		ContentType:        aws.String("text/calendar; charset=utf-8"),
		ContentDisposition: aws.String(`attachment; filename="invite.ics"`),
	})
	if err != nil {
		return "", fmt.Errorf("notify: upload invite: %w", err)
	}
	return p.baseURL + "/" + key, nil
}
