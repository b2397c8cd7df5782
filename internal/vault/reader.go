// Package vault enumerates a note corpus and produces document records.
//
// A vault is a directory tree of Markdown/plaintext files with optional YAML
// front matter. The reader honors include/exclude globs, parses front matter
// defensively, and emits deterministic records for the indexer.
package vault

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pborenstein/temoa/internal/errors"
)

// Document is one note emitted by the reader.
type Document struct {
	// RelativePath is the stable identifier inside the vault (forward-slash form).
	RelativePath string
	// Title comes from front matter when present, else the filename stem.
	Title string
	// Body is the content with front matter removed. When the front matter
	// carries a description, it is prepended followed by a blank line so it
	// gains positional weight in embeddings.
	Body string
	// FrontMatter is the parsed YAML mapping (never nil).
	FrontMatter map[string]any
	// ModTime is integer seconds, used for change detection.
	ModTime int64
	// ContentLength is the raw file length in bytes.
	ContentLength int64
}

// FileStat is the cheap per-file record used for index diffing.
type FileStat struct {
	RelativePath  string
	ModTime       int64
	ContentLength int64
}

// Reader enumerates documents under a vault root.
type Reader struct {
	root    string
	include []string
	exclude []string
}

// NewReader creates a reader for the vault root with the given glob sets.
// Empty include means "every file".
func NewReader(root string, include, exclude []string) (*Reader, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, errors.VaultReadError("vault root does not exist: "+root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, errors.VaultReadError("vault root is unreadable: "+root, err)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrCodeVaultNotDir,
			"vault root is not a directory: "+root, nil)
	}
	return &Reader{root: resolved, include: include, exclude: exclude}, nil
}

// Root returns the resolved vault root.
func (r *Reader) Root() string {
	return r.root
}

// Stat walks the vault and returns (path, mtime, length) for every surviving
// file, sorted by path. No file content is read.
func (r *Reader) Stat() ([]FileStat, error) {
	var stats []FileStat
	err := r.walk(func(rel string, info fs.FileInfo) error {
		stats = append(stats, FileStat{
			RelativePath:  rel,
			ModTime:       info.ModTime().Unix(),
			ContentLength: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].RelativePath < stats[j].RelativePath
	})
	return stats, nil
}

// ReadDocument reads and parses a single document by relative path.
func (r *Reader) ReadDocument(rel string) (*Document, error) {
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.VaultReadError("cannot stat "+rel, err)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.VaultReadError("cannot read "+rel, err)
	}
	return r.parse(rel, raw, info), nil
}

// Documents reads every surviving file and returns parsed records sorted by
// relative path.
func (r *Reader) Documents() ([]*Document, error) {
	stats, err := r.Stat()
	if err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(stats))
	for _, st := range stats {
		doc, err := r.ReadDocument(st.RelativePath)
		if err != nil {
			// A file deleted between walk and read is not an error.
			slog.Debug("vault_read_skip",
				slog.String("path", st.RelativePath),
				slog.String("error", err.Error()))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// parse builds a Document from raw file content.
func (r *Reader) parse(rel string, raw []byte, info fs.FileInfo) *Document {
	content := sanitizeUTF8(string(raw))
	fm, body := splitFrontMatter(rel, content)

	title := StringValue(fm, "title")
	if title == "" {
		base := filepath.Base(rel)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if desc := StringValue(fm, "description"); desc != "" {
		body = desc + "\n\n" + body
	}

	return &Document{
		RelativePath:  rel,
		Title:         title,
		Body:          body,
		FrontMatter:   fm,
		ModTime:       info.ModTime().Unix(),
		ContentLength: info.Size(),
	}
}

// walk visits every file under the root that survives the glob sets,
// deduplicating paths that resolve to the same file.
func (r *Reader) walk(fn func(rel string, info fs.FileInfo) error) error {
	seen := make(map[fileKey]struct{})

	return filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == r.root {
				return errors.VaultReadError("cannot walk vault root", err)
			}
			slog.Debug("vault_walk_skip",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(r.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && r.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !r.included(rel) || r.excluded(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		// Case-insensitive filesystems can surface the same file under more
		// than one path; dedupe by identity, not by spelling.
		key := keyFor(path, info)
		if _, dup := seen[key]; dup {
			return nil
		}
		seen[key] = struct{}{}

		return fn(rel, info)
	})
}

// included reports whether rel matches any include pattern.
func (r *Reader) included(rel string) bool {
	if len(r.include) == 0 {
		return true
	}
	for _, pat := range r.include {
		if matchGlob(pat, rel) {
			return true
		}
	}
	return false
}

// excluded reports whether rel matches any exclude pattern.
func (r *Reader) excluded(rel string) bool {
	for _, pat := range r.exclude {
		if matchGlob(pat, rel) {
			return true
		}
		// A directory pattern like ".temoa/**" also prunes the directory itself.
		if strings.HasSuffix(rel, "/") && matchGlob(pat, strings.TrimSuffix(rel, "/")+"/x") {
			return true
		}
	}
	return false
}

// matchGlob matches rel (forward-slash form) against a glob supporting "**".
// A pattern without a slash matches against the base name.
func matchGlob(pattern, rel string) bool {
	if !strings.Contains(pattern, "/") {
		ok, err := filepath.Match(pattern, pathBase(rel))
		return err == nil && ok
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(strings.TrimSuffix(rel, "/"), "/"))
}

func pathBase(rel string) string {
	rel = strings.TrimSuffix(rel, "/")
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[i+1:]
	}
	return rel
}

// matchSegments matches path segments against pattern segments where "**"
// matches zero or more segments.
func matchSegments(pattern, parts []string) bool {
	if len(pattern) == 0 {
		return len(parts) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(pattern[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := filepath.Match(pattern[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], parts[1:])
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode replacement
// character so payloads are always encodable at the core boundary.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}
