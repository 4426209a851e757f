package ingestion

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// Loader reads question bundles from files or directories.
type Loader struct {
	logger *log.Logger
}

func NewLoader(logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{logger: logger}
}

// LoadDataset loads every bundle at path using a default loader.
func LoadDataset(path string) ([]Document, error) {
	return NewLoader(nil).LoadDataset(path)
}

// LoadDocument loads the first bundle at path using a default loader.
func LoadDocument(path string) (Document, error) {
	return NewLoader(nil).LoadDocument(path)
}

// LoadDocument returns the first bundle found at path.
func (l *Loader) LoadDocument(path string) (Document, error) {
	docs, err := l.LoadDataset(path)
	if err != nil {
		return Document{}, err
	}
	if len(docs) == 0 {
		return Document{}, fmt.Errorf("no documents found in %s", path)
	}
	return docs[0], nil
}

// LoadDataset returns every bundle at path. A directory is walked in lexical
// order and files with unsupported extensions are skipped.
func (l *Loader) LoadDataset(path string) ([]Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("dataset path: %w", err)
	}
	if !info.IsDir() {
		return l.loadFile(path)
	}

	docs := make([]Document, 0)
	if err := filepath.WalkDir(path, func(file string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if DetectFormat(file) == FormatUnknown {
			l.logger.Printf("skip unsupported file %s", file)
			return nil
		}
		loaded, err := l.loadFile(file)
		if err != nil {
			return err
		}
		docs = append(docs, loaded...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walk dataset directory: %w", err)
	}

	return docs, nil
}

func (l *Loader) loadFile(path string) ([]Document, error) {
	parser, err := parserFor(DetectFormat(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	docs, err := parser.Parse(DocumentPayload{Path: path, Data: data})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	l.logger.Printf("loaded %s (%d documents)", path, len(docs))
	return docs, nil
}
