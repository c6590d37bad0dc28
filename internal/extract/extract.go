// Package extract reads documents from disk into plain text plus the metadata
// attached to every chunk ingested from them.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kamusis/folio/internal/vindex"
)

// ErrUnsupportedFormat is returned for files whose extension has no reader.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Document is the extracted text of one file.
type Document struct {
	SourceID string
	Text     string
	Metadata vindex.Metadata
}

type reader func(path string) (text string, meta map[string]string, err error)

var readers = map[string]reader{
	".txt":  readText,
	".md":   readMarkdown,
	".pdf":  readPDF,
	".html": readHTML,
	".htm":  readHTML,
}

// Formats returns the supported extensions in lexical order.
func Formats() []string {
	out := make([]string, 0, len(readers))
	for ext := range readers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether path has a known extension.
func Supported(path string) bool {
	_, ok := readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// File extracts one document. The source id is the file's base name.
func File(path string) (Document, error) {
	return file(path, filepath.Base(path))
}

func file(path, sourceID string) (Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	read, ok := readers[ext]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	text, extra, err := read(path)
	if err != nil {
		return Document{}, fmt.Errorf("cannot read %s: %w", path, err)
	}

	name := filepath.Base(path)
	meta := vindex.Metadata{
		{Key: "file_name", Value: name},
		{Key: "file_type", Value: strings.TrimPrefix(ext, ".")},
	}
	if t := strings.TrimSpace(extra["title"]); t != "" {
		meta = meta.Set("title", t)
	} else {
		meta = meta.Set("title", strings.TrimSuffix(name, filepath.Ext(name)))
	}
	for _, k := range []string{"author", "pages"} {
		if v := strings.TrimSpace(extra[k]); v != "" {
			meta = meta.Set(k, v)
		}
	}
	return Document{SourceID: sourceID, Text: text, Metadata: meta}, nil
}

// Walk extracts every supported file under root, skipping paths that match
// any of the exclude globs. Source ids are slash-separated paths relative to
// root. Unsupported files are skipped silently.
func Walk(root string, excludes []string, fn func(Document) error) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		doc, err := File(root)
		if err != nil {
			return err
		}
		return fn(doc)
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if matchesExclude(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}
		doc, err := file(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		return fn(doc)
	})
}

// matchesExclude reports whether relPath matches any of the given glob patterns.
func matchesExclude(relPath string, patterns []string) bool {
	name := filepath.Base(relPath)
	for _, pattern := range patterns {
		// Match against the full relative path AND just the basename.
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.ToSlash(relPath)); matched {
			return true
		}
	}
	return false
}

func readText(path string) (string, map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	if !utf8.Valid(b) {
		return "", nil, fmt.Errorf("%s is not valid UTF-8", path)
	}
	return strings.TrimPrefix(string(b), "\ufeff"), nil, nil
}

func pagesValue(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
