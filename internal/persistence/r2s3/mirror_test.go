package r2s3

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("unavailable")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_UploadsRelativeKeysWithRetry(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	local := filepath.Join(dir, "audit", "audit-2026-03-01-10.jsonl.zst")
	require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	up := &fakeUploader{fails: 2}
	m := newMirror(up, dir, "/slotkeeper/", 1, 4, nil)
	m.backoff = 0
	m.Enqueue(local)
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere.zst"))
	m.Close()
	m.Close()

	assert.Equal(t, []string{"slotkeeper/audit/audit-2026-03-01-10.jsonl.zst"}, up.keys)
	st := m.Stats()
	assert.Equal(t, uint64(2), st.EnqueuedTotal)
	assert.Equal(t, uint64(1), st.UploadSuccessTotal)
	assert.Zero(t, st.UploadFailTotal)
}

func TestMirror_CountsExhaustedRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	local := filepath.Join(dir, "a.zst")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	m := newMirror(&fakeUploader{fails: 10}, dir, "", 1, 4, nil)
	m.backoff = 0
	m.Enqueue(local)
	m.Close()

	st := m.Stats()
	assert.Equal(t, uint64(1), st.UploadFailTotal)
	assert.NotZero(t, st.LastErrorUnix)
}
