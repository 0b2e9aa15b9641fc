package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Checker confirms uploaded archives before the source rows are purged.
type Checker struct {
	client *s3.Client
	bucket string
}

// NewChecker creates a Checker for c's bucket.
func NewChecker(c *Client) *Checker {
	return &Checker{client: c.S3(), bucket: c.Bucket()}
}

// Exists reports whether an object is stored at path.
func (ch *Checker) Exists(ctx context.Context, path string) (bool, error) {
	_, err := ch.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(ch.bucket),
		Key:    aws.String(path),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
	return true, nil
}

// isNotFound matches NoSuchKey, the NotFound HeadObject returns, and bare
// 404 responses from S3-compatible providers.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}
