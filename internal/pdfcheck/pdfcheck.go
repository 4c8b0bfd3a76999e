// Package pdfcheck verifies that a downloaded statement is a readable PDF.
package pdfcheck

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// ErrNotPDF is returned for files that are not PDF documents, typically an
// HTML error page the portal served instead of the statement.
var ErrNotPDF = errors.New("not a PDF document")

const snippetLen = 120

var datePattern = regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}`)

// Info summarizes a PDF
type Info struct {
	Pages int
	// Snippet is the start of the first page's text, whitespace collapsed
	Snippet string
	// FirstDate is the first DD.MM.YYYY date found in the text, if any
	FirstDate string
}

// Inspect opens the file at path and extracts its page count and the text of
// the first page.
func Inspect(path string) (Info, error) {
	if err := checkMagic(path); err != nil {
		return Info{}, err
	}

	doc, err := fitz.New(path)
	if err != nil {
		return Info{}, fmt.Errorf("%w: failed to open %s: %v", ErrNotPDF, path, err)
	}
	defer doc.Close()

	info := Info{Pages: doc.NumPage()}
	if info.Pages == 0 {
		return info, nil
	}

	text, err := doc.Text(0)
	if err != nil {
		return info, fmt.Errorf("failed to extract text from page 1: %w", err)
	}
	info.Snippet = snippet(text)
	info.FirstDate = datePattern.FindString(text)
	return info, nil
}

func checkMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !bytes.Contains(head[:n], []byte("%PDF-")) {
		return fmt.Errorf("%w: %s", ErrNotPDF, path)
	}
	return nil
}

func snippet(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	if r := []rune(s); len(r) > snippetLen {
		return string(r[:snippetLen])
	}
	return s
}
