// Package mailstore reads raw inbound messages from S3.
package mailstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned when the object does not exist.
var ErrNotFound = errors.New("message object not found")

// ObjectGetter abstracts S3 GetObject for dependency inversion.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store fetches stored messages.
type Store struct {
	client ObjectGetter
}

// NewStore creates a new Store.
func NewStore(client ObjectGetter) *Store {
	return &Store{client: client}
}

// Get returns the full contents of s3://bucket/key.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Key builds the object key SES used for a message stored under prefix.
// An empty prefix yields the message id alone.
func Key(prefix, messageID string) string {
	return path.Join(prefix, messageID)
}
