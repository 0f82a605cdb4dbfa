// Package ingest is the boundary between the external parser and the
// engine. The parser (whatever splits raw text into ordered units) hands
// over a ParsedDocument; ingest derives the deterministic identifiers and
// builds the state.Document with default review states. The engine never
// parses raw text itself.
//
// Parsed documents arrive as .json or .yaml/.yml files, either imported
// explicitly with `recite import` or dropped into the watched inbox
// directory.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/recite/internal/identity"
	"github.com/mschirtzinger/recite/internal/state"
)

// ParsedItem is one piece of parsed text: body text carries a number,
// labels (headings) do not.
type ParsedItem struct {
	Text   string `json:"text" yaml:"text"`
	Kind   string `json:"kind" yaml:"kind"` // body or label
	Number int    `json:"number,omitempty" yaml:"number,omitempty"`
}

// ParsedUnit is one reviewable span as delivered by the parser.
type ParsedUnit struct {
	RangeLabel string       `json:"range_label" yaml:"range_label"`
	Items      []ParsedItem `json:"items" yaml:"items"`
}

// ParsedDocument is the parser-to-engine contract.
type ParsedDocument struct {
	Title      string       `json:"title" yaml:"title"`
	Qualifiers []string     `json:"qualifiers,omitempty" yaml:"qualifiers,omitempty"`
	SourceText string       `json:"source_text,omitempty" yaml:"source_text,omitempty"`
	Units      []ParsedUnit `json:"units" yaml:"units"`
}

// Validate checks the parser upheld its side of the contract.
func (pd *ParsedDocument) Validate() error {
	if pd.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(pd.Units) == 0 {
		return fmt.Errorf("at least one unit is required")
	}
	for i, u := range pd.Units {
		if len(u.Items) == 0 {
			return fmt.Errorf("unit %d: at least one item is required", i)
		}
		for j, it := range u.Items {
			switch it.Kind {
			case state.KindBody:
				if it.Number <= 0 {
					return fmt.Errorf("unit %d item %d: body items need a positive number", i, j)
				}
			case state.KindLabel:
			default:
				return fmt.Errorf("unit %d item %d: unknown kind %q", i, j, it.Kind)
			}
		}
	}
	return nil
}

// ReadFile reads and validates a parsed document from a .json, .yaml, or
// .yml file.
func ReadFile(path string) (*ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parsed document %s: %w", path, err)
	}

	var pd ParsedDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &pd); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &pd); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported extension %s (want .json, .yaml, or .yml)", filepath.Ext(path))
	}

	if err := pd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parsed document %s: %w", path, err)
	}
	return &pd, nil
}

// Build converts a parsed document into a state.Document with
// content-derived identifiers. Building the same parsed input twice
// yields byte-identical document and unit ids, which is what lets review
// state survive re-imports and address the same units across devices.
func Build(pd *ParsedDocument, now time.Time) (*state.Document, error) {
	if err := pd.Validate(); err != nil {
		return nil, err
	}

	docID := identity.Slug(pd.Title, pd.Qualifiers...)
	doc := &state.Document{
		ID:         docID,
		Title:      pd.Title,
		Qualifiers: append([]string(nil), pd.Qualifiers...),
		SourceText: pd.SourceText,
		Units:      make([]state.ContentUnit, 0, len(pd.Units)),
		CreatedAt:  now,
	}

	for _, pu := range pd.Units {
		unit := state.ContentUnit{
			RangeLabel: pu.RangeLabel,
			Items:      make([]state.Item, 0, len(pu.Items)),
		}
		var texts []string
		for _, it := range pu.Items {
			unit.Items = append(unit.Items, state.Item{
				Text:   it.Text,
				Kind:   it.Kind,
				Number: it.Number,
			})
			if it.Kind == state.KindBody {
				texts = append(texts, it.Text)
			}
		}
		unit.Text = strings.Join(texts, " ")
		unit.ID = identity.UnitID(docID, unit.FirstNumber(), unit.LastNumber())
		doc.Units = append(doc.Units, unit)
	}

	return doc, nil
}
