package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/domain/connector"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

func newLoader(files config.FileAccessConfig) *PayloadRefLoader {
	return NewPayloadRefLoader(files, nil, nil, zap.NewNop())
}

func writePayload(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestPayloadLoaderInline(t *testing.T) {
	l := newLoader(config.FileAccessConfig{})

	text, err := l.Load(context.Background(), "acme", "inline:already the content")
	require.NoError(t, err)
	assert.Equal(t, "already the content", text)
}

func TestPayloadLoaderFileWithinBaseDir(t *testing.T) {
	base := t.TempDir()
	path := writePayload(t, base, "doc.txt", "from disk")
	l := newLoader(config.FileAccessConfig{BaseDirs: []string{base}})

	text, err := l.Load(context.Background(), "acme", "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "from disk", text)
}

func TestPayloadLoaderFileOutsideBaseDirDenied(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	secret := writePayload(t, outside, "secret.txt", "should not leak")
	l := newLoader(config.FileAccessConfig{BaseDirs: []string{base}})

	_, err := l.Load(context.Background(), "acme", "file://"+secret)
	assert.True(t, pkgerrors.IsScope(err))

	// Traversal through the base directory lands in the same place.
	traversal := base + "/../" + filepath.Base(outside) + "/secret.txt"
	_, err = l.Load(context.Background(), "acme", "file://"+traversal)
	assert.True(t, pkgerrors.IsScope(err))
}

func TestPayloadLoaderSymlinkEscapeDenied(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	secret := writePayload(t, outside, "secret.txt", "should not leak")

	link := filepath.Join(base, "innocent.txt")
	require.NoError(t, os.Symlink(secret, link))
	l := newLoader(config.FileAccessConfig{BaseDirs: []string{base}})

	_, err := l.Load(context.Background(), "acme", "file://"+link)
	assert.True(t, pkgerrors.IsScope(err))
}

func TestPayloadLoaderFileMissing(t *testing.T) {
	base := t.TempDir()
	l := newLoader(config.FileAccessConfig{BaseDirs: []string{base}})

	_, err := l.Load(context.Background(), "acme", "file://"+filepath.Join(base, "gone.txt"))
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPayloadLoaderFileTooLarge(t *testing.T) {
	base := t.TempDir()
	writePayload(t, base, "huge.txt", strings.Repeat("a", maxFilePayloadBytes+1))
	l := newLoader(config.FileAccessConfig{BaseDirs: []string{base}})

	_, err := l.Load(context.Background(), "acme", "file://"+filepath.Join(base, "huge.txt"))
	assert.True(t, pkgerrors.IsValidation(err))
	assert.ErrorContains(t, err, "exceeds")
}

func TestPayloadLoaderFileRefsDisabledWithoutBaseDirs(t *testing.T) {
	l := newLoader(config.FileAccessConfig{})

	_, err := l.Load(context.Background(), "acme", "file:///etc/passwd")
	assert.True(t, pkgerrors.IsValidation(err))
	assert.ErrorContains(t, err, "ACTIVEKG_FILE_BASEDIRS")
}

func TestPayloadLoaderURLAllowlisted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fetched body"))
	}))
	defer srv.Close()

	l := newLoader(config.FileAccessConfig{URLAllowlist: []string{srv.URL}})
	l.allowPrivate = true // the test server listens on loopback

	text, err := l.Load(context.Background(), "acme", srv.URL+"/doc")
	require.NoError(t, err)
	assert.Equal(t, "fetched body", text)
}

func TestPayloadLoaderURLNotAllowlisted(t *testing.T) {
	l := newLoader(config.FileAccessConfig{URLAllowlist: []string{"https://docs.example.com/"}})

	_, err := l.Load(context.Background(), "acme", "https://elsewhere.example.com/doc")
	assert.True(t, pkgerrors.IsScope(err))

	// An empty allowlist allows nothing.
	empty := newLoader(config.FileAccessConfig{})
	_, err = empty.Load(context.Background(), "acme", "https://docs.example.com/doc")
	assert.True(t, pkgerrors.IsScope(err))
}

func TestPayloadLoaderURLPrivateAddressBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("should never arrive"))
	}))
	defer srv.Close()

	// Allowlisted but loopback: the dialer refuses the connection.
	l := newLoader(config.FileAccessConfig{URLAllowlist: []string{srv.URL}})

	_, err := l.Load(context.Background(), "acme", srv.URL+"/doc")
	assert.True(t, pkgerrors.IsDependency(err))
}

func TestPayloadLoaderSchemeRejected(t *testing.T) {
	l := newLoader(config.FileAccessConfig{})

	_, err := l.Load(context.Background(), "acme", "ftp://host/doc")
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestPayloadLoaderS3RidesConnector(t *testing.T) {
	src := &textSource{text: "object body"}
	l := NewPayloadRefLoader(config.FileAccessConfig{},
		&staticCatalog{cfg: &connector.Config{TenantID: "acme", Provider: connector.ProviderS3, Enabled: true}},
		&staticResolver{src: src},
		zap.NewNop())

	text, err := l.Load(context.Background(), "acme", "s3://docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "object body", text)
	assert.Equal(t, "s3://docs/a.txt", src.lastURI)
}

func TestPayloadLoaderS3WithoutConnector(t *testing.T) {
	l := newLoader(config.FileAccessConfig{})

	_, err := l.Load(context.Background(), "acme", "s3://docs/a.txt")
	assert.True(t, pkgerrors.IsValidation(err))

	// A tenant without an enabled registration is told so.
	missing := NewPayloadRefLoader(config.FileAccessConfig{},
		&staticCatalog{err: pkgerrors.NewNotFoundError("enabled s3 connector")},
		&staticResolver{}, zap.NewNop())
	_, err = missing.Load(context.Background(), "acme", "s3://docs/a.txt")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPayloadLoaderLimits(t *testing.T) {
	base := t.TempDir()
	l := newLoader(config.FileAccessConfig{
		BaseDirs:     []string{base},
		URLAllowlist: []string{"https://docs.example.com/"},
	})

	limits := l.Limits()
	assert.Equal(t, []string{base}, limits.FileBaseDirs)
	assert.Equal(t, int64(maxFilePayloadBytes), limits.FileMaxBytes)
	assert.Equal(t, []string{"https://docs.example.com/"}, limits.URLAllowlist)
	assert.True(t, limits.PrivateNetworksBlocked)
}
