package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func sampleParsed() *ParsedDocument {
	return &ParsedDocument{
		Title:      "Romans 8",
		SourceText: "1 There is therefore now no condemnation...",
		Units: []ParsedUnit{
			{
				RangeLabel: "1-2",
				Items: []ParsedItem{
					{Text: "Romans 8", Kind: "label"},
					{Text: "There is therefore now no condemnation", Kind: "body", Number: 1},
					{Text: "For the law of the Spirit of life", Kind: "body", Number: 2},
				},
			},
			{
				RangeLabel: "3",
				Items: []ParsedItem{
					{Text: "For God has done what the law could not do", Kind: "body", Number: 3},
				},
			},
		},
	}
}

func TestBuildDerivesIDs(t *testing.T) {
	doc, err := Build(sampleParsed(), testNow)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if doc.ID != "romans-8" {
		t.Errorf("doc id = %q, want romans-8", doc.ID)
	}
	if len(doc.Units) != 2 {
		t.Fatalf("got %d units, want 2", len(doc.Units))
	}
	if doc.Units[0].ID != "romans-8-v1-2" {
		t.Errorf("unit 0 id = %q, want romans-8-v1-2", doc.Units[0].ID)
	}
	if doc.Units[1].ID != "romans-8-v3" {
		t.Errorf("unit 1 id = %q, want romans-8-v3", doc.Units[1].ID)
	}
	// Unit text joins body items only; the label is excluded.
	want := "There is therefore now no condemnation For the law of the Spirit of life"
	if doc.Units[0].Text != want {
		t.Errorf("unit text = %q, want %q", doc.Units[0].Text, want)
	}
	if !doc.CreatedAt.Equal(testNow) {
		t.Errorf("createdAt = %v, want %v", doc.CreatedAt, testNow)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(sampleParsed(), testNow)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := Build(sampleParsed(), testNow)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if string(ja) != string(jb) {
		t.Errorf("two builds of the same input differ:\n%s\nvs\n%s", ja, jb)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ParsedDocument)
	}{
		{"missing title", func(pd *ParsedDocument) { pd.Title = "" }},
		{"no units", func(pd *ParsedDocument) { pd.Units = nil }},
		{"empty unit", func(pd *ParsedDocument) { pd.Units[0].Items = nil }},
		{"body without number", func(pd *ParsedDocument) { pd.Units[0].Items[1].Number = 0 }},
		{"unknown kind", func(pd *ParsedDocument) { pd.Units[0].Items[0].Kind = "verse" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pd := sampleParsed()
			tt.mutate(pd)
			if err := pd.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestReadFileJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "romans.json")
	data, err := json.Marshal(sampleParsed())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		t.Fatalf("write json: %v", err)
	}

	yamlPath := filepath.Join(dir, "romans.yaml")
	yamlDoc := `
title: Romans 8
source_text: "1 There is therefore now no condemnation..."
units:
  - range_label: "1-2"
    items:
      - {text: "Romans 8", kind: label}
      - {text: "There is therefore now no condemnation", kind: body, number: 1}
      - {text: "For the law of the Spirit of life", kind: body, number: 2}
  - range_label: "3"
    items:
      - {text: "For God has done what the law could not do", kind: body, number: 3}
`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	fromJSON, err := ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("ReadFile(json): %v", err)
	}
	fromYAML, err := ReadFile(yamlPath)
	if err != nil {
		t.Fatalf("ReadFile(yaml): %v", err)
	}

	// Same content through either format builds the same document.
	docJSON, err := Build(fromJSON, testNow)
	if err != nil {
		t.Fatalf("Build(json): %v", err)
	}
	docYAML, err := Build(fromYAML, testNow)
	if err != nil {
		t.Fatalf("Build(yaml): %v", err)
	}
	a, _ := json.Marshal(docJSON)
	b, _ := json.Marshal(docYAML)
	if string(a) != string(b) {
		t.Errorf("json and yaml inputs built different documents:\n%s\nvs\n%s", a, b)
	}
}

func TestReadFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "romans.txt")
	if err := os.WriteFile(path, []byte("raw text"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestReadFileInvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"title": ""}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Error("expected validation error for empty title")
	}
}
