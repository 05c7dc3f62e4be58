// Package zip packs and unpacks the small file bundles exchanged with the 3D
// reconstruction service.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

// Extraction limits. MaxTotalSize applies to the sum of extracted files.
const (
	MaxEntries   = 256
	MaxEntrySize = 512 << 20
	MaxTotalSize = 1 << 30
)

// Entry is one file inside a bundle.
type Entry struct {
	Filename string
	MIME     string
	Data     []byte
}

// Archive writes entries into a zip archive in order.
func Archive(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, entry := range entries {
		w, err := zw.Create(entry.Filename)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", entry.Filename, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", entry.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Extract reads every regular file of an archive keyed by its base name.
// Directory entries are skipped and nested paths are flattened.
func Extract(data []byte) (map[string][]byte, error) {
	return ExtractMatching(data, nil)
}

// ExtractMatching is Extract restricted to the base names keep accepts; a nil
// keep accepts everything. Skipped members are never decompressed.
func ExtractMatching(data []byte, keep func(name string) bool) (map[string][]byte, error) {
	return extract(data, keep, defaultLimits)
}

type limits struct {
	entries int
	entry   int64
	total   int64
}

var defaultLimits = limits{entries: MaxEntries, entry: MaxEntrySize, total: MaxTotalSize}

func extract(data []byte, keep func(string) bool, lim limits) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip: open: %w", err)
	}
	if len(zr.File) > lim.entries {
		return nil, fmt.Errorf("zip: %d entries exceeds limit of %d", len(zr.File), lim.entries)
	}
	files := make(map[string][]byte)
	remaining := lim.total
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Base(strings.ReplaceAll(f.Name, "\\", "/"))
		if name == "" || name == "." || name == "/" {
			continue
		}
		if keep != nil && !keep(name) {
			continue
		}
		// Declared sizes can lie; the limits below are enforced on bytes read.
		if f.UncompressedSize64 > uint64(lim.entry) {
			return nil, fmt.Errorf("zip: %s exceeds %d bytes", f.Name, lim.entry)
		}
		budget := min(lim.entry, remaining)
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("zip: open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, budget+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("zip: read %s: %w", f.Name, err)
		}
		if int64(len(content)) > budget {
			if budget < lim.entry {
				return nil, fmt.Errorf("zip: archive exceeds %d bytes uncompressed", lim.total)
			}
			return nil, fmt.Errorf("zip: %s exceeds %d bytes", f.Name, lim.entry)
		}
		remaining -= int64(len(content))
		files[name] = content
	}
	return files, nil
}
