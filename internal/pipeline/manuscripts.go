// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/novelty-engine/internal/ledger"
)

// FieldFilename holds the manuscript's file name within the manuscript store.
const FieldFilename = "filename"

// ManuscriptSource returns the text of an item's manuscript.
type ManuscriptSource interface {
	Text(ctx context.Context, item ledger.WorkItem) (string, error)
}

// textExtensions are the manuscript formats read as they are. Other formats
// need text extraction, which happens before ingestion.
var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// FileManuscripts stores manuscripts as plain-text files in Dir.
type FileManuscripts struct {
	Dir string
}

// Import copies the manuscript at src into the store under a name derived
// from id and returns that name.
func (f FileManuscripts) Import(_ context.Context, id, src string) (string, error) {
	ext := strings.ToLower(filepath.Ext(src))
	if !textExtensions[ext] {
		return "", fmt.Errorf("unsupported manuscript format %q: convert to text or markdown first", ext)
	}
	name := id + ext

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening manuscript: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating manuscript directory: %w", err)
	}
	out, err := os.Create(filepath.Join(f.Dir, name))
	if err != nil {
		return "", fmt.Errorf("creating manuscript copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copying manuscript: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing manuscript copy: %w", err)
	}
	return name, nil
}

// Text reads the file named by the item's filename field.
func (f FileManuscripts) Text(_ context.Context, item ledger.WorkItem) (string, error) {
	name := item.Field(FieldFilename)
	if name == "" {
		return "", fmt.Errorf("%s has no %s field", item.ID, FieldFilename)
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("manuscript name %q escapes the manuscript directory", name)
	}
	if !textExtensions[strings.ToLower(filepath.Ext(name))] {
		return "", fmt.Errorf("unsupported manuscript format for %s", name)
	}
	data, err := os.ReadFile(filepath.Join(f.Dir, name))
	if err != nil {
		return "", fmt.Errorf("reading manuscript %s: %w", name, err)
	}
	return string(data), nil
}
