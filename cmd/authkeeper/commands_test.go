package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/authkeeper/internal/models"
)

// setCLIEnv points the CLI at a file store in a temp dir. The token URL
// is never contacted because no client secret is configured.
func setCLIEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	t.Setenv("AUTH_CLIENT_ID", "cli-client")
	t.Setenv("AUTH_CLIENT_UNIQUE_KEY", "test-host")
	t.Setenv("AUTH_CLIENT_SECRET", "")
	t.Setenv("AUTH_SCOPES", "r_usr")
	t.Setenv("AUTH_TOKEN_URL", "http://127.0.0.1:1/token")
	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("STORE_PATH", path)
	t.Setenv("STORE_PASSPHRASE", "")
	t.Setenv("LOG_LEVEL", "error")
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestGet_WithoutStoredTokensIsBasic(t *testing.T) {
	setCLIEnv(t)

	out, err := execute(t, "get")
	require.NoError(t, err)

	var v credentialsView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "cli-client", v.ClientID)
	assert.Equal(t, "basic", v.Level)
	assert.Empty(t, v.Token)
}

func TestSetThenGet(t *testing.T) {
	setCLIEnv(t)

	out, err := execute(t, "set", "--token", "abcdefghijklmnop", "--user-id", "u-1", "--refresh-token", "rt", "--expires-in", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "stored user credentials for cli-client")

	out, err = execute(t, "get", "--output", "yaml", "--concurrency", "4")
	require.NoError(t, err)

	var v credentialsView
	require.NoError(t, yaml.Unmarshal([]byte(out), &v))
	assert.Equal(t, "user", v.Level)
	assert.Equal(t, "u-1", v.UserID)
	assert.Equal(t, "abcd********mnop", v.Token)

	out, err = execute(t, "get", "--show-token")
	require.NoError(t, err)
	assert.Contains(t, out, `"token": "abcdefghijklmnop"`)
}

func TestLogout(t *testing.T) {
	setCLIEnv(t)

	_, err := execute(t, "set", "--token", "tok", "--user-id", "u-1")
	require.NoError(t, err)

	out, err := execute(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "logged out cli-client")

	out, err = execute(t, "get")
	require.NoError(t, err)
	assert.Contains(t, out, `"level": "basic"`)
}

func TestSet_RequiresToken(t *testing.T) {
	setCLIEnv(t)

	_, err := execute(t, "set")
	assert.ErrorContains(t, err, "--token")
}

func TestGet_BadFlags(t *testing.T) {
	setCLIEnv(t)

	_, err := execute(t, "get", "--concurrency", "0")
	assert.ErrorContains(t, err, "concurrency")

	_, err = execute(t, "get", "--output", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestConfigErrorSurfaces(t *testing.T) {
	setCLIEnv(t)
	t.Setenv("STORE_BACKEND", "floppy")

	_, err := execute(t, "get")
	assert.ErrorContains(t, err, "STORE_BACKEND")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	setCLIEnv(t)

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs([]string{"watch", "--interval", "10ms"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, cmd.ExecuteContext(ctx))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken("", false))
	assert.Equal(t, "*****", maskToken("short", false))
	assert.Equal(t, "abcd********wxyz", maskToken("abcdefghijklmnopqrstuvwxyz"[:4]+strings.Repeat("-", 10)+"wxyz", false))
	assert.Equal(t, "visible", maskToken("visible", true))
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	creds := models.Credentials{ClientID: "c", UserID: "u", Expires: time.Unix(0, 0)}
	require.NoError(t, render(&buf, creds, "json", false))
	assert.Contains(t, buf.String(), `"level": "user"`)
}
