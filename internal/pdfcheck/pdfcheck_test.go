package pdfcheck

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect_HTMLErrorPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "12345.pdf")
	require.NoError(t, os.WriteFile(path, []byte("<html><body>Session expired</body></html>"), 0o644))

	_, err := Inspect(path)

	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestInspect_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := Inspect(path)

	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestInspect_MissingFile(t *testing.T) {
	_, err := Inspect(filepath.Join(t.TempDir(), "nope.pdf"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotPDF)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "Kontoauszug Nr. 3", snippet("  Kontoauszug\n\tNr.   3 \n"))

	long := strings.Repeat("ä", 200)
	assert.Len(t, []rune(snippet(long)), snippetLen)
}

func TestDatePattern(t *testing.T) {
	assert.Equal(t, "05.04.2020", datePattern.FindString("Depotauszug vom 05.04.2020 Seite 1"))
}
