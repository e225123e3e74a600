package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadHeaders(t *testing.T) {
	dir := t.TempDir()

	wrapped := filepath.Join(dir, "wrapped.json")
	writeFile(t, wrapped, `{"headers":{"Authorization":"Bearer a"}}`)
	h, err := LoadHeaders(wrapped)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer a"}, h)

	flat := filepath.Join(dir, "flat.json")
	writeFile(t, flat, `{"Authorization":"Bearer b","X-Extra":"1"}`)
	h, err = LoadHeaders(flat)
	require.NoError(t, err)
	assert.Equal(t, "Bearer b", h["Authorization"])
	assert.Len(t, h, 2)

	empty := filepath.Join(dir, "empty.json")
	writeFile(t, empty, `{}`)
	_, err = LoadHeaders(empty)
	assert.True(t, errors.Is(err, ErrEmptyHeaders))

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `[1,2]`)
	_, err = LoadHeaders(bad)
	assert.Error(t, err)

	_, err = LoadHeaders(filepath.Join(dir, "absent.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

type submissions struct {
	mu  sync.Mutex
	got []map[string]string
	err error
}

func (s *submissions) submit(_ context.Context, h map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, h)
	return s.err
}

func (s *submissions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *submissions) last() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got[len(s.got)-1]
}

func TestWatcher_SubmitsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "headers.json")
	writeFile(t, path, `{"Authorization":"Bearer initial"}`)

	subs := &submissions{}
	w, err := NewWatcher(path, 50*time.Millisecond, subs.submit, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, "Bearer initial", latest["Authorization"])
	assert.Equal(t, 0, subs.count(), "initial load is not submitted")

	// rapid writes collapse into one submission
	writeFile(t, path, `{"Authorization":"Bearer v1"}`)
	writeFile(t, path, `{"Authorization":"Bearer v2"}`)

	require.Eventually(t, func() bool { return subs.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Bearer v2", subs.last()["Authorization"])
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, subs.count())

	latest, _ = w.Latest()
	assert.Equal(t, "Bearer v2", latest["Authorization"])
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "headers.json")

	subs := &submissions{}
	w, err := NewWatcher(path, 20*time.Millisecond, subs.submit, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	_, ok := w.Latest()
	assert.False(t, ok, "missing file is not an error")

	writeFile(t, filepath.Join(dir, "other.json"), `{"a":"b"}`)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, subs.count())

	writeFile(t, path, `{"a":"b"}`)
	require.Eventually(t, func() bool { return subs.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_SubmitErrorStillStoresHeaders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "headers.json")

	subs := &submissions{err: errors.New("no prompt open")}
	w, err := NewWatcher(path, 20*time.Millisecond, subs.submit, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeFile(t, path, `{"Authorization":"Bearer later"}`)
	require.Eventually(t, func() bool { return w.Loads() == 1 }, 2*time.Second, 10*time.Millisecond)

	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, "Bearer later", latest["Authorization"])
}

func TestWatcher_StopIdempotent(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "h.json"), 0, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
