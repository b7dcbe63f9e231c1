package results

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterRecordsTurns(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.Record("s1", "What is Go?", "A programming language.", []string{"intro.md", "faq.md"}))
	require.NoError(t, w.Record("s2", "And generics?", "Since 1.18.", nil))
	require.NoError(t, w.Close())

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, []string{"timestamp", "session", "question", "answer", "sources"}, rows[0])

	require.Equal(t, "s1", rows[1][1])
	require.Equal(t, "What is Go?", rows[1][2])
	require.Equal(t, "A programming language.", rows[1][3])
	require.Equal(t, "intro.md; faq.md", rows[1][4])

	require.Equal(t, "", rows[2][4])
	require.NotEmpty(t, rows[1][0])
}

func TestWriterPathLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "results")

	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	require.Equal(t, dir, filepath.Dir(w.Path()))

	base := filepath.Base(w.Path())
	require.True(t, strings.HasPrefix(base, "results_"), "got %q", base)
	require.True(t, strings.HasSuffix(base, ".csv"), "got %q", base)
}

func TestWriterEscapesDelimiters(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.Record("s1", `a "quoted", question`, "line one\nline two", nil))
	require.NoError(t, w.Close())

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, `a "quoted", question`, rows[1][2])
	require.Equal(t, "line one\nline two", rows[1][3])
}
