package journal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journalPath(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return filepath.Join(dir, entries[0].Name())
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, j.Record(EventCreating, "cluster-1", nil))
	require.NoError(t, j.Record(EventCreated, "cluster-1", map[string]string{"zone": "us-east-1a"}))
	require.NoError(t, j.RecordError(EventFailed, "cluster-1", nil, errors.New("quota exceeded")))
	require.NoError(t, j.Close())

	r, err := NewReader(journalPath(t, dir))
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventCreating, first.Type)
	assert.Equal(t, "cluster-1", first.ResourceID)
	assert.Equal(t, int64(1), first.Sequence)

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventCreated, second.Type)
	assert.JSONEq(t, `{"zone":"us-east-1a"}`, string(second.Data))
	assert.Equal(t, int64(2), second.Sequence)

	third, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventFailed, third.Type)
	assert.Equal(t, "quota exceeded", third.Error)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestJournalSequenceIsMonotonic(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Record(EventSubmitted, "", nil))
	}
	require.NoError(t, j.Close())

	r, err := NewReader(journalPath(t, dir))
	require.NoError(t, err)
	defer r.Close()

	var last int64
	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, last+1, entry.Sequence)
		last = entry.Sequence
	}
	assert.Equal(t, int64(5), last)
}

func TestReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope.journal"))
	require.Error(t, err)
}
