package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burnet/burnet/pkg/errdefs"
)

// testEnv is a config file pointing at a store in a temporary directory.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "burnet.cue")
	content := fmt.Sprintf(`
store: {
	path:      %q
	pool_size: 4
}
logging: output: "discard"
`, filepath.Join(dir, "objects.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	return &testEnv{dir: dir, config: configPath}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(context.Background(), args...)
}

func (e *testEnv) runContext(ctx context.Context, args ...string) (string, error) {
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestStoreCRUD(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "store", "put", "templates", "fedora", `{"memory": 1024, "cpus": 2}`)
	require.NoError(t, err)
	assert.Equal(t, "Stored templates/fedora\n", out)

	_, err = env.run(t, "store", "put", "templates", "debian", `{"memory": 512}`)
	require.NoError(t, err)

	out, err = env.run(t, "store", "get", "templates", "fedora")
	require.NoError(t, err)
	var value map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &value))
	assert.Equal(t, map[string]any{"memory": float64(1024), "cpus": float64(2)}, value)

	out, err = env.run(t, "store", "list", "templates")
	require.NoError(t, err)
	assert.Equal(t, "debian\nfedora\n", out)

	out, err = env.run(t, "--json", "store", "list", "volumes")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	out, err = env.run(t, "store", "delete", "templates", "debian")
	require.NoError(t, err)
	assert.Equal(t, "Deleted templates/debian\n", out)

	_, err = env.run(t, "store", "get", "templates", "debian")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestStoreKeepsLargeIntegers(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "store", "put", "volumes", "big", `{"size": 9007199254740993}`)
	require.NoError(t, err)

	file := filepath.Join(env.dir, "volumes.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"huge": {"size": 9223372036854775807}}`), 0o600))
	_, err = env.run(t, "store", "import", "volumes", file)
	require.NoError(t, err)

	out, err := env.run(t, "store", "export", "volumes")
	require.NoError(t, err)
	assert.Contains(t, out, `"size": 9007199254740993`)
	assert.Contains(t, out, `"size": 9223372036854775807`)
}

func TestStorePutRejectsNonObject(t *testing.T) {
	env := newTestEnv(t)

	for _, value := range []string{`[1, 2]`, `"text"`, `{broken`} {
		_, err := env.run(t, "store", "put", "templates", "x", value)
		require.Error(t, err, value)
		assert.True(t, errdefs.IsInvalid(err), value)
	}
}

func TestStoreImportAndExport(t *testing.T) {
	env := newTestEnv(t)

	file := filepath.Join(env.dir, "templates.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		"fedora": {"memory": 1024},
		"ubuntu": {"memory": 2048, "tags": ["lts"]}
	}`), 0o600))

	out, err := env.run(t, "store", "import", "templates", file)
	require.NoError(t, err)
	assert.Equal(t, "Task 1 finished: Imported 2 records into templates\n", out)

	out, err = env.run(t, "store", "export", "templates")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"fedora": {"memory": 1024},
		"ubuntu": {"memory": 2048, "tags": ["lts"]}
	}`, out)
}

func TestStoreImportJSONOutput(t *testing.T) {
	env := newTestEnv(t)

	file := filepath.Join(env.dir, "pools.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"default": {"path": "/var/lib/images"}}`), 0o600))

	out, err := env.run(t, "--json", "store", "import", "pools", file)
	require.NoError(t, err)

	var rec struct {
		ID      int64  `json:"id"`
		Target  string `json:"target"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "pools", rec.Target)
	assert.Equal(t, "finished", rec.Status)
}

func TestStoreImportRejectsMalformedFile(t *testing.T) {
	env := newTestEnv(t)

	file := filepath.Join(env.dir, "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"fedora": "not an object"}`), 0o600))

	_, err := env.run(t, "store", "import", "templates", file)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalid(err))

	_, err = env.run(t, "store", "import", "templates", filepath.Join(env.dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreCheck(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "store", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:      healthy")

	out, err = env.run(t, "--json", "--pool-size", "3", "store", "check")
	require.NoError(t, err)

	var report struct {
		Path    string `json:"path"`
		Healthy bool   `json:"healthy"`
		Pool    struct {
			Capacity int `json:"capacity"`
			Created  int `json:"created"`
			InUse    int `json:"in_use"`
		} `json:"pool"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Healthy)
	assert.Equal(t, 3, report.Pool.Capacity)
	assert.Equal(t, 1, report.Pool.Created)
	assert.Zero(t, report.Pool.InUse)
	assert.True(t, strings.HasSuffix(report.Path, "objects.db"))
}

func TestStoreFlagOverridesConfig(t *testing.T) {
	env := newTestEnv(t)
	other := filepath.Join(env.dir, "other", "objects.db")

	_, err := env.run(t, "--store", other, "store", "put", "pools", "default", `{}`)
	require.NoError(t, err)

	out, err := env.run(t, "store", "list", "pools")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = env.run(t, "--store", other, "store", "list", "pools")
	require.NoError(t, err)
	assert.Equal(t, "default\n", out)
}

func TestAgentStopsOnCancel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := env.runContext(ctx, "agent", "--check-interval", "10ms")
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}
