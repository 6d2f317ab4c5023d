// Package catalog keeps the spec store in step with an upstream repository
// of model definitions.
package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Document is one model definition file as fetched from a source. Hash
// changes whenever the file's bytes change.
type Document struct {
	Path string
	Hash string
	Data []byte
}

// Source lists the model definitions of an upstream catalog.
type Source interface {
	// Load returns every model document, ordered by path.
	Load(ctx context.Context) ([]Document, error)
}

// isModelFile reports whether path names a YAML model definition.
func isModelFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// DirSource reads model files from the models/ directory of a checked out
// catalog repository.
type DirSource struct {
	Root string
}

// NewDirSource creates a source rooted at a repository checkout.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

// Load walks <root>/models. Each document is hashed the way git hashes a
// blob, so hashes match the object ids of the upstream repository.
func (s *DirSource) Load(ctx context.Context) ([]Document, error) {
	base := filepath.Join(s.Root, "models")
	var docs []Document

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isModelFile(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		docs = append(docs, Document{
			Path: filepath.ToSlash(rel),
			Hash: gitBlobHash(data),
			Data: data,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", base, err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// gitBlobHash returns the object id git assigns to a blob with this content.
func gitBlobHash(data []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(data)) + "\x00"))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
