package connectors

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

const (
	maxFilePayloadBytes = 1 << 20
	maxURLPayloadBytes  = 10 << 20
	urlFetchTimeout     = 10 * time.Second
)

// PayloadRefLoader resolves node payload_ref values to text. File refs
// are confined to the configured base directories, URL refs to the
// allowlist and never to private address space, and s3 refs ride the
// tenant's registered connector.
type PayloadRefLoader struct {
	baseDirs  []string
	allowlist []string
	client    *http.Client
	catalog   ports.ConnectorCatalog
	resolver  ports.SourceResolver
	logger    *zap.Logger

	// allowPrivate lets tests reach loopback targets.
	allowPrivate bool
}

var _ ports.PayloadLoader = (*PayloadRefLoader)(nil)

// NewPayloadRefLoader builds a loader confined by files. The catalog
// and resolver may be nil when s3 refs are not in play.
func NewPayloadRefLoader(files config.FileAccessConfig, catalog ports.ConnectorCatalog, resolver ports.SourceResolver, logger *zap.Logger) *PayloadRefLoader {
	l := &PayloadRefLoader{
		baseDirs:  cleanBaseDirs(files.BaseDirs),
		allowlist: files.URLAllowlist,
		catalog:   catalog,
		resolver:  resolver,
		logger:    logger,
	}
	l.client = &http.Client{
		Timeout: urlFetchTimeout,
		Transport: &http.Transport{
			DialContext: l.guardedDial,
		},
	}
	return l
}

// Load resolves ref to its text content.
func (l *PayloadRefLoader) Load(ctx context.Context, tenantID, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "inline:"):
		return strings.TrimPrefix(ref, "inline:"), nil
	case strings.HasPrefix(ref, "file://"):
		return l.loadFile(strings.TrimPrefix(ref, "file://"))
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.loadURL(ctx, ref)
	case strings.HasPrefix(ref, "s3://"):
		return l.loadS3(ctx, tenantID, ref)
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("payload_ref scheme not supported: %q", ref))
	}
}

// AccessLimits reports the loader's confinement settings for the admin
// security endpoint.
type AccessLimits struct {
	FileBaseDirs           []string `json:"file_basedirs"`
	FileMaxBytes           int64    `json:"file_max_bytes"`
	URLAllowlist           []string `json:"url_allowlist"`
	URLMaxBytes            int64    `json:"url_max_bytes"`
	URLTimeoutSeconds      int      `json:"url_timeout_seconds"`
	PrivateNetworksBlocked bool     `json:"private_networks_blocked"`
}

// Limits snapshots the active confinement settings.
func (l *PayloadRefLoader) Limits() AccessLimits {
	return AccessLimits{
		FileBaseDirs:           append([]string(nil), l.baseDirs...),
		FileMaxBytes:           maxFilePayloadBytes,
		URLAllowlist:           append([]string(nil), l.allowlist...),
		URLMaxBytes:            maxURLPayloadBytes,
		URLTimeoutSeconds:      int(urlFetchTimeout / time.Second),
		PrivateNetworksBlocked: !l.allowPrivate,
	}
}

// loadFile reads a local file confined to the base directories.
// Symlinks are resolved before the containment check, so a link inside
// a base directory cannot reach outside it.
func (l *PayloadRefLoader) loadFile(path string) (string, error) {
	if len(l.baseDirs) == 0 {
		return "", pkgerrors.NewValidationError("file payload refs are disabled; set ACTIVEKG_FILE_BASEDIRS")
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", pkgerrors.NewNotFoundError(fmt.Sprintf("payload file %s", path))
		}
		return "", pkgerrors.NewValidationError(fmt.Sprintf("payload file %s cannot be resolved", path))
	}
	if !l.underBaseDir(resolved) {
		return "", pkgerrors.NewScopeError(fmt.Sprintf("payload file %s is outside the allowed directories", path))
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", pkgerrors.NewNotFoundError(fmt.Sprintf("payload file %s", path))
	}
	if info.IsDir() {
		return "", pkgerrors.NewValidationError(fmt.Sprintf("payload file %s is a directory", path))
	}
	if info.Size() > maxFilePayloadBytes {
		return "", pkgerrors.NewValidationError(
			fmt.Sprintf("payload file %s exceeds %d bytes", path, maxFilePayloadBytes))
	}

	f, err := os.Open(resolved)
	if err != nil {
		return "", pkgerrors.NewInternalError(fmt.Sprintf("open payload file %s", path), err)
	}
	defer f.Close()

	body, err := io.ReadAll(io.LimitReader(f, maxFilePayloadBytes))
	if err != nil {
		return "", pkgerrors.NewInternalError(fmt.Sprintf("read payload file %s", path), err)
	}
	return string(body), nil
}

func (l *PayloadRefLoader) underBaseDir(resolved string) bool {
	for _, base := range l.baseDirs {
		real, err := filepath.EvalSymlinks(base)
		if err != nil {
			real = base
		}
		rel, err := filepath.Rel(real, resolved)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return true
	}
	return false
}

// loadURL fetches an allowlisted URL. The private-address guard lives
// in the dialer, after DNS resolution, so a rebinding record cannot
// slip past it.
func (l *PayloadRefLoader) loadURL(ctx context.Context, ref string) (string, error) {
	if !l.urlAllowed(ref) {
		return "", pkgerrors.NewScopeError(fmt.Sprintf("payload url %s is not on the allowlist", ref))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", pkgerrors.NewValidationError(fmt.Sprintf("payload url %s cannot be parsed", ref))
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", pkgerrors.NewDependencyError("payload url", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.NewDependencyError("payload url",
			fmt.Errorf("%s returned %d", ref, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLPayloadBytes+1))
	if err != nil {
		return "", pkgerrors.NewDependencyError("payload url", err)
	}
	if len(body) > maxURLPayloadBytes {
		return "", pkgerrors.NewValidationError(
			fmt.Sprintf("payload url %s exceeds %d bytes", ref, maxURLPayloadBytes))
	}
	return string(body), nil
}

// urlAllowed matches ref against the allowlist prefixes. An empty
// allowlist allows nothing.
func (l *PayloadRefLoader) urlAllowed(ref string) bool {
	for _, prefix := range l.allowlist {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}

// loadS3 rides the tenant's registered s3 connector so payload refs
// share its credentials and quotas.
func (l *PayloadRefLoader) loadS3(ctx context.Context, tenantID, ref string) (string, error) {
	if l.catalog == nil || l.resolver == nil {
		return "", pkgerrors.NewValidationError("s3 payload refs need a registered s3 connector")
	}
	cfg, err := l.catalog.Enabled(ctx, tenantID, connector.ProviderS3)
	if err != nil {
		return "", err
	}
	src, err := l.resolver.Resolve(ctx, cfg)
	if err != nil {
		return "", err
	}
	res, err := src.FetchText(ctx, ref)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// guardedDial refuses connections into private address space. The
// check runs on the literal address being dialed.
func (l *PayloadRefLoader) guardedDial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout: urlFetchTimeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			if l.allowPrivate {
				return nil
			}
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil || isPrivateAddress(ip) {
				return fmt.Errorf("dial to private address %s refused", host)
			}
			return nil
		},
	}
	return dialer.DialContext(ctx, network, address)
}

// isPrivateAddress covers loopback, link-local, RFC1918, and ULA
// space.
func isPrivateAddress(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified()
}

func cleanBaseDirs(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		out = append(out, filepath.Clean(d))
	}
	return out
}
