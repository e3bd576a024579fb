package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

var ErrPathEscape = errors.New("path escapes the working directory")

const maxFilenameBytes = 200

// unsafeFilenameChars are illegal on common filesystems or awkward on a
// command line.
const unsafeFilenameChars = `<>:"/\|?*'` + "`$;&"

// SanitizeFilename replaces unsafe characters, trims leading and trailing
// dots and spaces, and caps the length while keeping the extension.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(unsafeFilenameChars, r) {
			return '_'
		}
		return r
	}, name)

	ext := filepath.Ext(name)
	if len(ext) > 10 || strings.ContainsRune(ext, ' ') {
		ext = ""
	}
	base := strings.TrimSuffix(name, ext)
	base = strings.Trim(base, ". ")
	base = strings.Join(strings.Fields(base), " ")
	for strings.Contains(base, "__") {
		base = strings.ReplaceAll(base, "__", "_")
	}
	if base == "" || base == "_" {
		base = "video"
	}
	for len(base)+len(ext) > maxFilenameBytes {
		_, size := utf8.DecodeLastRuneInString(base)
		base = base[:len(base)-size]
	}
	return strings.TrimRight(base, ". ") + ext
}

// ResolveInWorkDir verifies that reported is a regular file inside workDir
// after resolving symlinks, then renames it to its sanitized name. The
// returned path is the file's final location.
func ResolveInWorkDir(workDir, reported string) (string, error) {
	root, err := filepath.EvalSymlinks(workDir)
	if err != nil {
		return "", fmt.Errorf("resolve work dir: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", err
	}

	p := reported
	if !filepath.IsAbs(p) {
		p = filepath.Join(workDir, p)
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}
	real, err = filepath.Abs(real)
	if err != nil {
		return "", err
	}
	if !within(root, real) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, filepath.Base(reported))
	}

	st, err := os.Stat(real)
	if err != nil {
		return "", err
	}
	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", filepath.Base(real))
	}

	clean := SanitizeFilename(filepath.Base(real))
	if clean == filepath.Base(real) {
		return real, nil
	}
	target := uniquePath(filepath.Join(filepath.Dir(real), clean))
	if !within(root, target) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, clean)
	}
	if err := os.Rename(real, target); err != nil {
		return "", fmt.Errorf("rename: %w", err)
	}
	return target, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func uniquePath(path string) string {
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}
