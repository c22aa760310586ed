package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openarb/arbot/internal/domain"
)

// Archiver uploads every completed execution attempt as a JSON object at
// trades/YYYY/MM/DD/<opportunity-id>.json, giving a durable record outside
// the primary database. Implements the event bus Sink contract.
type Archiver struct {
	client *s3.Client
	bucket string
}

// NewArchiver creates an Archiver writing to the client's bucket.
func NewArchiver(c *Client) *Archiver {
	return &Archiver{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Name identifies the sink in bus logs.
func (a *Archiver) Name() string { return "s3-archiver" }

// Handle archives trade outcomes. Detection events carry no result and are
// ignored.
func (a *Archiver) Handle(ctx context.Context, ev domain.Event) error {
	if ev.Result == nil {
		return nil
	}
	return a.Archive(ctx, *ev.Result)
}

// Archive uploads one trade result.
func (a *Archiver) Archive(ctx context.Context, res domain.ArbitrageTradeResult) error {
	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal trade result: %w", err)
	}

	key := fmt.Sprintf("trades/%s/%s.json",
		res.CompletedAt.UTC().Format("2006/01/02"), res.Opportunity.ID)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}
