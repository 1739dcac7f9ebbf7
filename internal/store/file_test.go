package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/undetectlabs/mimic/api/schemas"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewFileStore_CreatesNestedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deep", "profiles")

	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileStore_SaveAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	p := storeProfile("file-1", "roundtrip", time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveProfile(ctx, p))

	// One document per profile, named by id, with no temp file left behind.
	assert.FileExists(t, filepath.Join(s.Dir(), "file-1.json"))
	assert.NoFileExists(t, filepath.Join(s.Dir(), "file-1.json.tmp"))

	got, err := s.GetProfile(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	require.NoError(t, s.Close())
}

func TestFileStore_SaveProfileRejectsInvalidDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	t.Run("nil document", func(t *testing.T) {
		var verr *schemas.ValidationError
		require.ErrorAs(t, s.SaveProfile(ctx, nil), &verr)
		assert.Equal(t, "id", verr.Field)
	})

	t.Run("empty id", func(t *testing.T) {
		var verr *schemas.ValidationError
		require.ErrorAs(t, s.SaveProfile(ctx, storeProfile("", "nameless", time.Now())), &verr)
		assert.Equal(t, "id", verr.Field)
	})
}

func TestFileStore_RejectsPathEscapingIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	for _, id := range []string{"../escape", "nested/id", `back\slash`} {
		var verr *schemas.ValidationError
		require.ErrorAs(t, s.SaveProfile(ctx, storeProfile(id, "escape artist", time.Now())), &verr, "save %q", id)
		assert.Equal(t, "id", verr.Field)

		_, err := s.GetProfile(ctx, id)
		assert.ErrorAs(t, err, &verr, "get %q", id)
		assert.ErrorAs(t, s.DeleteProfile(ctx, id), &verr, "delete %q", id)
	}

	// Nothing escaped into or out of the profile directory.
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStore_GetUnknownProfile(t *testing.T) {
	s := newTestFileStore(t)

	_, err := s.GetProfile(context.Background(), "ghost")
	var nf *schemas.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.ID)
}

func TestFileStore_CorruptDocumentSurfacesIOError(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	path := filepath.Join(s.Dir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := s.GetProfile(ctx, "broken")
	var ioErr *schemas.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "decode profile", ioErr.Op)
}

func TestFileStore_DeleteProfile(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	t.Run("removes the document file", func(t *testing.T) {
		require.NoError(t, s.SaveProfile(ctx, storeProfile("file-del", "short lived", time.Now())))
		require.NoError(t, s.DeleteProfile(ctx, "file-del"))
		assert.NoFileExists(t, filepath.Join(s.Dir(), "file-del.json"))
	})

	t.Run("unknown id", func(t *testing.T) {
		err := s.DeleteProfile(ctx, "never-existed")
		var nf *schemas.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "never-existed", nf.ID)
	})
}

func TestFileStore_SaveOverwritesExistingDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestFileStore(t)

	p := storeProfile("file-ow", "before", time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveProfile(ctx, p))

	p.Name = "after"
	p.SessionCount = 9
	require.NoError(t, s.SaveProfile(ctx, p))

	got, err := s.GetProfile(ctx, "file-ow")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, 9, got.SessionCount)

	out, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestFileStore_ListSkipsForeignAndUnreadableEntries(t *testing.T) {
	ctx := context.Background()

	core, logs := observer.New(zapcore.WarnLevel)
	dir := t.TempDir()
	s, err := NewFileStore(dir, zap.New(core))
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveProfile(ctx, storeProfile("oldest", "oldest", base)))
	require.NoError(t, s.SaveProfile(ctx, storeProfile("newest", "newest", base.Add(2*time.Hour))))
	require.NoError(t, s.SaveProfile(ctx, storeProfile("mid", "mid", base.Add(time.Hour))))

	// Clutter the directory: a stray file, a subdirectory and a corrupt document.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a profile"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{"), 0o600))

	out, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"newest", "mid", "oldest"}, []string{out[0].ID, out[1].ID, out[2].ID})

	warned := logs.FilterMessage("skipping unreadable profile").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "corrupt.json", warned[0].ContextMap()["file"])
}
