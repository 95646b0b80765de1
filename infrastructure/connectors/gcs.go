package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// GCSSource reads documents from one Cloud Storage bucket, optionally
// under a prefix.
type GCSSource struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

var _ connector.Source = (*GCSSource)(nil)

// newGCSSource builds the storage client from decrypted settings.
func newGCSSource(ctx context.Context, cfg *connector.Config) (connector.Source, error) {
	gc, err := connector.ParseGCSConfig(cfg.Settings)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, option.WithCredentialsFile(gc.ServiceAccountJSONPath))
	if err != nil {
		return nil, pkgerrors.NewDependencyError("gcs", err)
	}
	return &GCSSource{
		bucket: client.Bucket(gc.Bucket),
		name:   gc.Bucket,
		prefix: gc.Prefix,
	}, nil
}

// Provider reports the registry name of this source.
func (g *GCSSource) Provider() string { return connector.ProviderGCS }

// Stat returns object metadata without downloading content.
func (g *GCSSource) Stat(ctx context.Context, uri string) (connector.Stats, error) {
	key, err := g.objectKey(uri)
	if err != nil {
		return connector.Stats{}, err
	}
	attrs, err := g.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return connector.Stats{Exists: false}, nil
	}
	if err != nil {
		return connector.Stats{}, classifyGCSError("stat", uri, err)
	}

	updated := attrs.Updated
	return connector.Stats{
		Exists:     true,
		ETag:       attrs.Etag,
		Generation: strconv.FormatInt(attrs.Generation, 10),
		ModifiedAt: &updated,
		Size:       attrs.Size,
		MimeType:   attrs.ContentType,
		Owner:      attrs.Owner,
	}, nil
}

// FetchText downloads the object body as text.
func (g *GCSSource) FetchText(ctx context.Context, uri string) (connector.FetchResult, error) {
	key, err := g.objectKey(uri)
	if err != nil {
		return connector.FetchResult{}, err
	}
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return connector.FetchResult{}, classifyGCSError("fetch", uri, err)
	}
	defer r.Close()

	body, err := io.ReadAll(io.LimitReader(r, maxFetchBytes))
	if err != nil {
		return connector.FetchResult{}, pkgerrors.NewTransientConnectorError(
			fmt.Sprintf("read gcs object %s", uri), err)
	}

	return connector.FetchResult{
		Text:  string(body),
		Title: path.Base(key),
		Metadata: map[string]any{
			"content_type": r.Attrs.ContentType,
			"size":         r.Attrs.Size,
		},
	}, nil
}

// ListChanges walks the bucket listing one page at a time; the cursor
// is the iterator page token.
func (g *GCSSource) ListChanges(ctx context.Context, cursor string) ([]connector.ChangeItem, string, error) {
	query := &storage.Query{}
	if g.prefix != "" {
		query.Prefix = g.prefix
	}
	it := g.bucket.Objects(ctx, query)
	pager := iterator.NewPager(it, listPageSize, cursor)

	var attrs []*storage.ObjectAttrs
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return nil, "", classifyGCSError("list", g.name, err)
	}

	items := make([]connector.ChangeItem, 0, len(attrs))
	for _, a := range attrs {
		// Delimiter queries yield synthetic prefix rows with no name.
		if a.Name == "" {
			continue
		}
		items = append(items, connector.ChangeItem{
			URI:        fmt.Sprintf("gs://%s/%s", g.name, a.Name),
			Operation:  connector.OpUpsert,
			ETag:       a.Etag,
			ModifiedAt: a.Updated.UTC().Format(time.RFC3339),
		})
	}
	return items, next, nil
}

// objectKey strips the bucket portion from a gs:// or gcs:// URI. Bare
// keys pass through.
func (g *GCSSource) objectKey(uri string) (string, error) {
	for _, scheme := range []string{"gs://", "gcs://"} {
		rest, ok := strings.CutPrefix(uri, scheme)
		if !ok {
			continue
		}
		_, key, found := strings.Cut(rest, "/")
		if !found || key == "" {
			return "", pkgerrors.NewPermanentConnectorError(
				fmt.Sprintf("gcs uri %q has no object key", uri), nil)
		}
		return key, nil
	}
	if uri == "" {
		return "", pkgerrors.NewPermanentConnectorError("empty gcs uri", nil)
	}
	return uri, nil
}

// classifyGCSError sorts provider failures into permanent and
// transient. Missing objects, bad credentials, and denied access are
// permanent; everything else retries.
func classifyGCSError(op, target string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return pkgerrors.NewPermanentConnectorError(
			fmt.Sprintf("gcs %s %s: does not exist", op, target), err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
			return pkgerrors.NewPermanentConnectorError(
				fmt.Sprintf("gcs %s %s: http %d", op, target, gerr.Code), err)
		}
	}
	return pkgerrors.NewTransientConnectorError(fmt.Sprintf("gcs %s %s", op, target), err)
}
