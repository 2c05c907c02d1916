package concierge

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// KnowledgeBaseFile is the YAML import format:
//
//	entries:
//	  - category: amenities
//	    title: Laundry room
//	    content: Basement level, open 7am to 10pm.
type KnowledgeBaseFile struct {
	Entries []EntryInput `yaml:"entries"`
}

// ParseKnowledgeBaseYAML reads and validates an import file. Titles must be
// unique within the file.
func ParseKnowledgeBaseYAML(r io.Reader) ([]EntryInput, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file KnowledgeBaseFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file is empty", ErrInvalidEntry)
		}
		return nil, fmt.Errorf("parsing knowledge base YAML: %w", err)
	}
	if len(file.Entries) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidEntry)
	}

	seen := make(map[string]int, len(file.Entries))
	for i := range file.Entries {
		e := &file.Entries[i]
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		if prev, ok := seen[e.Title]; ok {
			return nil, fmt.Errorf("entry %d: %w: title %q repeats entry %d", i+1, ErrInvalidEntry, e.Title, prev)
		}
		seen[e.Title] = i + 1
	}
	return file.Entries, nil
}
