package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the connectivity state of an endpoint as last observed
// through the automation client.
type Status string

const (
	StatusDisconnected Status = "Disconnected"
	StatusActive       Status = "Active"
	StatusError        Status = "Error"
	StatusTimeout      Status = "Timeout"
)

// ParseStatus maps a status name (case-insensitive) to a Status.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disconnected":
		return StatusDisconnected, true
	case "active":
		return StatusActive, true
	case "error":
		return StatusError, true
	case "timeout":
		return StatusTimeout, true
	default:
		return "", false
	}
}

// Descriptor is the immutable description of one conversational endpoint.
type Descriptor struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	Location        string   `json:"location" yaml:"location"`
	ScrapeSelectors []string `json:"scrape_selectors" yaml:"scrape_selectors"`
	InputSelectors  []string `json:"input_selectors" yaml:"input_selectors"`
}

// ScrapeSelector joins the scrape locators into one OR-combined query.
func (d Descriptor) ScrapeSelector() string {
	return strings.Join(d.ScrapeSelectors, ", ")
}

// InputSelector joins the input locators into one OR-combined query.
func (d Descriptor) InputSelector() string {
	return strings.Join(d.InputSelectors, ", ")
}

// Endpoint is a descriptor plus its mutable runtime status.
type Endpoint struct {
	Descriptor
	Status       Status     `json:"status"`
	LastSeen     *time.Time `json:"last_seen"`
	MessageCount int64      `json:"message_count"`
}

// ErrInvalidPair is returned when the endpoint set is not exactly two
// well-formed, distinct endpoints.
var ErrInvalidPair = errors.New("invalid endpoint pair")

// ValidatePair checks that descs describe exactly two usable endpoints.
func ValidatePair(descs []Descriptor) error {
	if len(descs) != 2 {
		return fmt.Errorf("%w: expected 2 endpoints, got %d", ErrInvalidPair, len(descs))
	}
	for i, d := range descs {
		switch {
		case strings.TrimSpace(d.ID) == "":
			return fmt.Errorf("%w: endpoint #%d has no id", ErrInvalidPair, i)
		case d.ID != strings.ToLower(d.ID):
			return fmt.Errorf("%w: endpoint id %q must be lowercase", ErrInvalidPair, d.ID)
		case strings.TrimSpace(d.Location) == "":
			return fmt.Errorf("%w: endpoint %q has no location", ErrInvalidPair, d.ID)
		case len(d.ScrapeSelectors) == 0:
			return fmt.Errorf("%w: endpoint %q has no scrape selectors", ErrInvalidPair, d.ID)
		case len(d.InputSelectors) == 0:
			return fmt.Errorf("%w: endpoint %q has no input selectors", ErrInvalidPair, d.ID)
		}
	}
	if descs[0].ID == descs[1].ID {
		return fmt.Errorf("%w: duplicate endpoint id %q", ErrInvalidPair, descs[0].ID)
	}
	return nil
}
