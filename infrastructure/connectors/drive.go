package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

const (
	driveFileFields = "id, name, mimeType, modifiedTime, size, owners(emailAddress)"

	// Google-native documents have no byte representation and must be
	// exported; everything else downloads as stored.
	googleAppsPrefix = "application/vnd.google-apps."
)

// DriveSource reads documents from one Drive folder. Google-native
// documents export as plain text.
type DriveSource struct {
	svc      *drive.Service
	folderID string
}

var _ connector.Source = (*DriveSource)(nil)

// newDriveSource builds the Drive client from decrypted settings.
func newDriveSource(ctx context.Context, cfg *connector.Config) (connector.Source, error) {
	dc, err := connector.ParseDriveConfig(cfg.Settings)
	if err != nil {
		return nil, err
	}
	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(dc.ServiceAccountJSONPath),
		option.WithScopes(drive.DriveReadonlyScope),
	)
	if err != nil {
		return nil, pkgerrors.NewDependencyError("google drive", err)
	}
	return &DriveSource{svc: svc, folderID: dc.FolderID}, nil
}

// Provider reports the registry name of this source.
func (d *DriveSource) Provider() string { return connector.ProviderDrive }

// Stat returns file metadata. Drive has no etag; modifiedTime serves
// as the change marker.
func (d *DriveSource) Stat(ctx context.Context, uri string) (connector.Stats, error) {
	f, err := d.svc.Files.Get(driveFileID(uri)).
		Fields(driveFileFields).
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		if isDriveNotFound(err) {
			return connector.Stats{Exists: false}, nil
		}
		return connector.Stats{}, classifyDriveError("stat", uri, err)
	}

	stats := connector.Stats{
		Exists:   true,
		ETag:     f.ModifiedTime,
		Size:     f.Size,
		MimeType: f.MimeType,
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		stats.ModifiedAt = &t
	}
	if len(f.Owners) > 0 {
		stats.Owner = f.Owners[0].EmailAddress
	}
	return stats, nil
}

// FetchText downloads the file as text, exporting Google-native
// documents to text/plain.
func (d *DriveSource) FetchText(ctx context.Context, uri string) (connector.FetchResult, error) {
	id := driveFileID(uri)
	f, err := d.svc.Files.Get(id).
		Fields("id, name, mimeType").
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return connector.FetchResult{}, classifyDriveError("fetch", uri, err)
	}

	var resp *http.Response
	if strings.HasPrefix(f.MimeType, googleAppsPrefix) {
		resp, err = d.svc.Files.Export(id, "text/plain").Context(ctx).Download()
	} else {
		resp, err = d.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	}
	if err != nil {
		return connector.FetchResult{}, classifyDriveError("fetch", uri, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return connector.FetchResult{}, pkgerrors.NewTransientConnectorError(
			fmt.Sprintf("read drive file %s", uri), err)
	}

	return connector.FetchResult{
		Text:  string(body),
		Title: f.Name,
		Metadata: map[string]any{
			"mime_type": f.MimeType,
			"file_id":   f.Id,
		},
	}, nil
}

// ListChanges lists the folder's live files one page at a time; the
// cursor is the Drive page token.
func (d *DriveSource) ListChanges(ctx context.Context, cursor string) ([]connector.ChangeItem, string, error) {
	call := d.svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", d.folderID)).
		Fields("nextPageToken, files(id, name, mimeType, modifiedTime)").
		PageSize(listPageSize).
		Context(ctx)
	if cursor != "" {
		call = call.PageToken(cursor)
	}

	out, err := call.Do()
	if err != nil {
		return nil, "", classifyDriveError("list", d.folderID, err)
	}

	items := lo.Map(out.Files, func(f *drive.File, _ int) connector.ChangeItem {
		return connector.ChangeItem{
			URI:        "drive://" + f.Id,
			Operation:  connector.OpUpsert,
			ETag:       f.ModifiedTime,
			ModifiedAt: f.ModifiedTime,
		}
	})
	return items, out.NextPageToken, nil
}

// driveFileID strips the drive:// scheme; bare file ids pass through.
func driveFileID(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "drive://"); ok {
		return rest
	}
	return uri
}

func isDriveNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// classifyDriveError sorts provider failures into permanent and
// transient. Drive reports rate limiting as 403 with a reason code, so
// that branch retries instead of dead-lettering.
func classifyDriveError(op, target string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return pkgerrors.NewTransientConnectorError(
				fmt.Sprintf("drive %s %s: rate limited", op, target), err)
		case http.StatusForbidden:
			if isDriveRateLimit(gerr) {
				return pkgerrors.NewTransientConnectorError(
					fmt.Sprintf("drive %s %s: rate limited", op, target), err)
			}
			return pkgerrors.NewPermanentConnectorError(
				fmt.Sprintf("drive %s %s: http %d", op, target, gerr.Code), err)
		case http.StatusNotFound, http.StatusUnauthorized:
			return pkgerrors.NewPermanentConnectorError(
				fmt.Sprintf("drive %s %s: http %d", op, target, gerr.Code), err)
		}
	}
	return pkgerrors.NewTransientConnectorError(fmt.Sprintf("drive %s %s", op, target), err)
}

func isDriveRateLimit(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
