package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/samber/lo"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

const (
	// maxFetchBytes caps a single document download. Text extraction
	// truncates far below this; the cap only bounds memory.
	maxFetchBytes = 32 << 20

	// listPageSize is the page length for incremental listings.
	listPageSize = 1000
)

// permanentS3Codes are failures no retry will fix: the object or
// bucket is gone, or the credentials will never work.
var permanentS3Codes = map[string]struct{}{
	"NoSuchKey":             {},
	"NoSuchBucket":          {},
	"NotFound":              {},
	"AccessDenied":          {},
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"InvalidObjectState":    {},
}

// s3API is the subset of the S3 client the source calls. Tests provide
// a fake.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Source reads documents from one bucket, optionally under a prefix.
type S3Source struct {
	client s3API
	bucket string
	prefix string
}

var _ connector.Source = (*S3Source)(nil)

// newS3Source builds the SDK client from decrypted settings.
func newS3Source(ctx context.Context, cfg *connector.Config) (connector.Source, error) {
	sc, err := connector.ParseS3Config(cfg.Settings)
	if err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(sc.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKeyID, sc.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, pkgerrors.NewDependencyError("aws", err)
	}
	return &S3Source{
		client: s3.NewFromConfig(awsCfg),
		bucket: sc.Bucket,
		prefix: sc.Prefix,
	}, nil
}

// Provider reports the registry name of this source.
func (s *S3Source) Provider() string { return connector.ProviderS3 }

// Stat returns object metadata without downloading content. A missing
// object is not an error.
func (s *S3Source) Stat(ctx context.Context, uri string) (connector.Stats, error) {
	bucket, key, err := s.objectRef(uri)
	if err != nil {
		return connector.Stats{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return connector.Stats{Exists: false}, nil
		}
		return connector.Stats{}, classifyS3Error("stat", uri, err)
	}

	stats := connector.Stats{
		Exists:   true,
		ETag:     strings.Trim(aws.ToString(out.ETag), `"`),
		Size:     aws.ToInt64(out.ContentLength),
		MimeType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		modified := *out.LastModified
		stats.ModifiedAt = &modified
	}
	return stats, nil
}

// FetchText downloads the object body as text.
func (s *S3Source) FetchText(ctx context.Context, uri string) (connector.FetchResult, error) {
	bucket, key, err := s.objectRef(uri)
	if err != nil {
		return connector.FetchResult{}, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return connector.FetchResult{}, classifyS3Error("fetch", uri, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxFetchBytes))
	if err != nil {
		return connector.FetchResult{}, pkgerrors.NewTransientConnectorError(
			fmt.Sprintf("read s3 object %s", uri), err)
	}

	return connector.FetchResult{
		Text:  string(body),
		Title: path.Base(key),
		Metadata: map[string]any{
			"etag":         strings.Trim(aws.ToString(out.ETag), `"`),
			"content_type": aws.ToString(out.ContentType),
			"size":         aws.ToInt64(out.ContentLength),
		},
	}, nil
}

// ListChanges walks the bucket listing one page at a time; the cursor
// is the continuation token. Listings only show live objects, so
// deletions arrive through webhook events instead.
func (s *S3Source) ListChanges(ctx context.Context, cursor string) ([]connector.ChangeItem, string, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(listPageSize),
	}
	if s.prefix != "" {
		in.Prefix = aws.String(s.prefix)
	}
	if cursor != "" {
		in.ContinuationToken = aws.String(cursor)
	}

	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, "", classifyS3Error("list", s.bucket, err)
	}

	items := lo.Map(out.Contents, func(obj s3types.Object, _ int) connector.ChangeItem {
		item := connector.ChangeItem{
			URI:       fmt.Sprintf("s3://%s/%s", s.bucket, aws.ToString(obj.Key)),
			Operation: connector.OpUpsert,
			ETag:      strings.Trim(aws.ToString(obj.ETag), `"`),
		}
		if obj.LastModified != nil {
			item.ModifiedAt = obj.LastModified.UTC().Format(time.RFC3339)
		}
		return item
	})

	next := lo.Ternary(aws.ToBool(out.IsTruncated), aws.ToString(out.NextContinuationToken), "")
	return items, next, nil
}

// objectRef resolves a URI to (bucket, key). Bare keys fall back to
// the configured bucket.
func (s *S3Source) objectRef(uri string) (string, string, error) {
	if rest, ok := strings.CutPrefix(uri, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || key == "" {
			return "", "", pkgerrors.NewPermanentConnectorError(
				fmt.Sprintf("s3 uri %q has no object key", uri), nil)
		}
		return bucket, key, nil
	}
	if s.bucket == "" || uri == "" {
		return "", "", pkgerrors.NewPermanentConnectorError(
			fmt.Sprintf("cannot resolve s3 uri %q", uri), nil)
	}
	return s.bucket, uri, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "NotFound" || code == "NoSuchKey"
}

// classifyS3Error sorts provider failures into permanent (dead-letter)
// and transient (retry). Unknown codes retry.
func classifyS3Error(op, target string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, permanent := permanentS3Codes[apiErr.ErrorCode()]; permanent {
			return pkgerrors.NewPermanentConnectorError(
				fmt.Sprintf("s3 %s %s: %s", op, target, apiErr.ErrorCode()), err)
		}
	}
	return pkgerrors.NewTransientConnectorError(fmt.Sprintf("s3 %s %s", op, target), err)
}
