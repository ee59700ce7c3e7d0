package store

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const gzipExt = ".gz"

// SegmentPath returns the path of segment index of the record file rooted at
// base: base itself, then base-1, base-2 and so on. For a ".gz" base the
// counter goes before the extension (run.gz, run-1.gz).
func SegmentPath(base string, index int) string {
	if index == 0 {
		return base
	}
	suffix := "-" + strconv.Itoa(index)
	if IsCompressed(base) {
		return strings.TrimSuffix(base, gzipExt) + suffix + gzipExt
	}
	return base + suffix
}

// IsCompressed reports whether segments of base are gzip compressed.
func IsCompressed(base string) bool {
	return strings.EqualFold(filepath.Ext(base), gzipExt)
}

// ListSegments returns the existing segments of base in order, stopping at the
// first gap.
func ListSegments(base string) []string {
	var paths []string
	for i := 0; ; i++ {
		p := SegmentPath(base, i)
		if _, err := os.Stat(p); err != nil {
			return paths
		}
		paths = append(paths, p)
	}
}

// RemoveSegments deletes every segment of base from index from onwards.
func RemoveSegments(base string, from int) error {
	for i := from; ; i++ {
		err := os.Remove(SegmentPath(base, i))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
