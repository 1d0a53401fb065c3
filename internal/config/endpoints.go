package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/relaybridge/internal/domain"
)

// DefaultEndpoints is the built-in pair used when no endpoints file is set.
func DefaultEndpoints() []domain.Descriptor {
	return []domain.Descriptor{
		{
			ID:       "claude",
			Name:     "Claude 4 Pro",
			Location: "claude.ai",
			ScrapeSelectors: []string{
				"div.font-claude-message",
				"div[data-testid='assistant-message']",
				"div[data-testid='user-message']",
			},
			InputSelectors: []string{
				"div[contenteditable='true']",
				"div.ProseMirror",
				"textarea[placeholder*='Message']",
			},
		},
		{
			ID:       "gemini",
			Name:     "Gemini 2.5 Pro",
			Location: "gemini.google.com",
			ScrapeSelectors: []string{
				"div.response-container",
				"message-content",
				".model-response-text",
			},
			InputSelectors: []string{
				"div.input-area",
				"rich-textarea",
				"div[contenteditable='true']",
			},
		},
	}
}

type endpointsFile struct {
	Endpoints []domain.Descriptor `yaml:"endpoints"`
}

// LoadEndpoints reads the endpoint pair from path. An empty path returns
// the built-in pair.
func LoadEndpoints(path string) ([]domain.Descriptor, error) {
	if path == "" {
		return DefaultEndpoints(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoints file: %w", err)
	}

	descs, err := ParseEndpoints(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return descs, nil
}

// ParseEndpoints decodes and validates an endpoints document:
//
//	endpoints:
//	  - id: claude
//	    name: Claude 4 Pro
//	    location: claude.ai
//	    scrape_selectors: ["div.font-claude-message"]
//	    input_selectors: ["div.ProseMirror"]
func ParseEndpoints(data []byte) ([]domain.Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f endpointsFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty endpoints document", domain.ErrInvalidPair)
		}
		return nil, fmt.Errorf("failed to parse endpoints: %w", err)
	}

	for i := range f.Endpoints {
		d := &f.Endpoints[i]
		d.ID = strings.ToLower(strings.TrimSpace(d.ID))
		d.Location = strings.TrimSpace(d.Location)
		if d.Name == "" {
			d.Name = d.ID
		}
	}

	if err := domain.ValidatePair(f.Endpoints); err != nil {
		return nil, err
	}
	return f.Endpoints, nil
}
