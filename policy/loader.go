package policy

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseJSONDocument decodes a policy document from JSON.
func ParseJSONDocument(r io.Reader) (Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode policy document: %w", err)
	}
	return doc, nil
}

// ParseYAMLDocument decodes a policy document from YAML.
func ParseYAMLDocument(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode policy document: %w", err)
	}
	return doc, nil
}

// LoadDocument reads a document from disk, selecting the format from the
// file extension (.json, .yaml, .yml).
func LoadDocument(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open policy document: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSONDocument(f)
	case ".yaml", ".yml":
		return ParseYAMLDocument(f)
	default:
		return Document{}, fmt.Errorf("unsupported policy document extension %q", filepath.Ext(path))
	}
}
