package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localagent/internal/domain"
	"localagent/internal/infra/logger"
	"localagent/internal/security"
)

func newFileManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	sb, err := security.NewSandbox(dir)
	require.NoError(t, err)

	m := NewManager(nil, logger.Discard())
	require.NoError(t, m.Register(NewFileProcessor(sb, logger.Discard())))
	return m, dir
}

func fileOp(t *testing.T, m *Manager, op string, params map[string]any) (FileResult, error) {
	t.Helper()
	out, err := m.Execute(context.Background(), FileProcessorID, op, params)
	if err != nil {
		return FileResult{}, err
	}
	return out.(FileResult), nil
}

func TestFileProcessorJSONRoundTrip(t *testing.T) {
	m, dir := newFileManager(t)

	res, err := fileOp(t, m, "write", map[string]any{
		"path":    "reports/out.json",
		"content": map[string]any{"name": "ada", "score": 9},
	})
	require.NoError(t, err)
	assert.Equal(t, "reports/out.json", res.Path)
	assert.FileExists(t, filepath.Join(dir, "reports", "out.json"))

	res, err = fileOp(t, m, "read", map[string]any{"path": "reports/out.json"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "score": float64(9)}, res.Result)
}

func TestFileProcessorYAML(t *testing.T) {
	m, _ := newFileManager(t)

	_, err := fileOp(t, m, "write", map[string]any{"path": "cfg.yml", "content": map[string]any{"level": "debug"}})
	require.NoError(t, err)

	res, err := fileOp(t, m, "read", map[string]any{"path": "cfg.yml"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"level": "debug"}, res.Result)
}

func TestFileProcessorCSV(t *testing.T) {
	m, dir := newFileManager(t)

	_, err := fileOp(t, m, "write", map[string]any{
		"path": "rows.csv",
		"content": []any{
			map[string]any{"b": 2, "a": "x"},
			map[string]any{"b": 3, "a": "y"},
		},
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "rows.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\nx,2\ny,3\n", string(raw))

	res, err := fileOp(t, m, "read", map[string]any{"path": "rows.csv"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]string{{"a": "x", "b": "2"}, {"a": "y", "b": "3"}}, res.Result)

	_, err = fileOp(t, m, "write", map[string]any{"path": "bad.csv", "content": "not rows"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestFileProcessorTextAndExplicitFormat(t *testing.T) {
	m, _ := newFileManager(t)

	_, err := fileOp(t, m, "write", map[string]any{"path": "notes.md", "content": "hello"})
	require.NoError(t, err)
	res, err := fileOp(t, m, "read", map[string]any{"path": "notes.md"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Result)

	_, err = fileOp(t, m, "write", map[string]any{"path": "data.dat", "content": []any{1, 2}, "format": "json"})
	require.NoError(t, err)
	res, err = fileOp(t, m, "read", map[string]any{"path": "data.dat", "format": "json"})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, res.Result)
}

func TestFileProcessorReadMissing(t *testing.T) {
	m, _ := newFileManager(t)
	_, err := fileOp(t, m, "read", map[string]any{"path": "nope.txt"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, domain.CodeFileNotFound, domain.ErrorCodeOf(err))
}

func TestFileProcessorSandboxEscape(t *testing.T) {
	m, _ := newFileManager(t)
	for _, op := range []string{"read", "write", "delete", "list"} {
		_, err := fileOp(t, m, op, map[string]any{"path": "../outside.txt", "content": "x"})
		assert.True(t, errors.Is(err, domain.ErrPathOutsideSandbox), "%s: %v", op, err)
		assert.Equal(t, domain.CodePathOutsideSandbox, domain.ErrorCodeOf(err))
	}
}

func TestFileProcessorWriteThroughLinkIntoMissingDir(t *testing.T) {
	m, dir := newFileManager(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(dir, "link")); err != nil {
		t.Skip("cannot create symlinks")
	}

	_, err := fileOp(t, m, "write", map[string]any{"path": "link/newdir/pwned.txt", "content": "x"})
	assert.True(t, errors.Is(err, domain.ErrPathOutsideSandbox), "%v", err)
	assert.NoDirExists(t, filepath.Join(outside, "newdir"))
}

func TestFileProcessorDeleteAndList(t *testing.T) {
	m, _ := newFileManager(t)

	for _, p := range []string{"a.txt", "sub/b.txt"} {
		_, err := fileOp(t, m, "write", map[string]any{"path": p, "content": "x"})
		require.NoError(t, err)
	}

	res, err := fileOp(t, m, "list", map[string]any{})
	require.NoError(t, err)
	files := res.Result.([]FileInfo)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Path)
	assert.Equal(t, "sub/b.txt", files[1].Path)
	assert.Equal(t, int64(1), files[1].Size)

	res, err = fileOp(t, m, "delete", map[string]any{"path": "sub"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"deleted": true}, res.Result)

	res, err = fileOp(t, m, "delete", map[string]any{"path": "sub"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"deleted": false}, res.Result)

	res, err = fileOp(t, m, "list", map[string]any{"path": "missing"})
	require.NoError(t, err)
	assert.Empty(t, res.Result)

	_, err = fileOp(t, m, "delete", map[string]any{"path": "."})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
