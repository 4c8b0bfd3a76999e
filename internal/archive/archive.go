// Package archive moves finished browser downloads into the destination
// directory tree.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrExists is returned when a move would overwrite an existing file
var ErrExists = errors.New("destination already exists")

// Archive is a destination root plus the landing directory the browser
// downloads into.
type Archive struct {
	Dest    string
	Landing string
}

// New resolves dest to an absolute path. An empty landing defaults to
// "<dest>/.incoming".
func New(dest, landing string) (*Archive, error) {
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination %s: %w", dest, err)
	}
	if landing == "" {
		landing = filepath.Join(absDest, ".incoming")
	}
	absLanding, err := filepath.Abs(landing)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download directory %s: %w", landing, err)
	}
	return &Archive{Dest: absDest, Landing: absLanding}, nil
}

// Prepare creates the destination and landing directories
func (a *Archive) Prepare() error {
	for _, dir := range []string{a.Dest, a.Landing} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Path is the destination path of a file, optionally inside a sub directory
func (a *Archive) Path(subDir, name string) string {
	if subDir == "" {
		return filepath.Join(a.Dest, name)
	}
	return filepath.Join(a.Dest, subDir, name)
}

// Exists reports whether something is already stored at path
func (a *Archive) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Landed is the path a download with the given portal filename lands on
func (a *Archive) Landed(portalFilename string) string {
	return filepath.Join(a.Landing, portalFilename)
}

// Store moves a landed download to dest, creating parent directories
func (a *Archive) Store(portalFilename, dest string) error {
	src := a.Landed(portalFilename)
	if src == dest {
		return nil
	}
	if a.Exists(dest) {
		return fmt.Errorf("%w: %s", ErrExists, dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}

	if err := os.Rename(src, dest); err == nil {
		return nil
	} else if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("downloaded file %s not found: %w", src, err)
	}

	// rename fails across devices, e.g. a landing dir on a Windows mount
	if err := copyFile(src, dest); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dest, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("failed to remove %s after copy: %w", src, err)
	}
	return nil
}

// Discard removes a landed download that is not kept
func (a *Archive) Discard(portalFilename string) error {
	err := os.Remove(a.Landed(portalFilename))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func copyFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
