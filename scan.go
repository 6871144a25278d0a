package billscan

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"

	"github.com/ledongthuc/pdf"
)

// DiscoverDocuments scans the given directories (non-recursively) for PDF
// files, resolves each match to its absolute path, de-duplicates paths
// reachable through more than one root, and returns them in a stable sorted
// order. Missing directories are skipped, not errors.
func DiscoverDocuments(dirs []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, fmt.Errorf("resolving %s: %w", m, err)
			}
			// Roots reaching the same file through a symlink must not
			// double-process it.
			if resolved, err := filepath.EvalSymlinks(abs); err == nil {
				abs = resolved
			}
			if seen[abs] {
				continue
			}
			seen[abs] = true
			paths = append(paths, abs)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// probePDF reads the page count from a PDF buffer without rendering anything.
// A probe failure is only a hint; callers record zero pages and move on. The
// parser panics on some malformed cross-reference tables, so the probe
// contains that too.
func probePDF(data []byte) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			count, err = 0, fmt.Errorf("probing pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("probing pdf: %w", err)
	}
	return reader.NumPage(), nil
}

// sniffMime reports the media-type hint stored with the raw document.
func sniffMime(filename string, data []byte) string {
	if filepath.Ext(filename) == ".pdf" && bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}
	return http.DetectContentType(data)
}
