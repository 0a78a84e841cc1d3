package e2e

import (
	"strings"
	"testing"

	"github.com/hyperjump/semret/internal/extract"
)

func TestBuildCorpus(t *testing.T) {
	c := BuildCorpus()
	if len(c.Documents) != len(topics) {
		t.Fatalf("expected %d documents, got %d", len(topics), len(c.Documents))
	}
	if len(c.Cases) != len(c.Documents) {
		t.Errorf("expected one query per document, got %d", len(c.Cases))
	}
	names := make(map[string]bool)
	for _, d := range c.Documents {
		if names[d.FileName()] {
			t.Errorf("duplicate file name %s", d.FileName())
		}
		names[d.FileName()] = true
	}
}

func TestBuildCorpus_ExpectedDocsContainQueryWords(t *testing.T) {
	c := BuildCorpus()
	for _, tc := range c.Cases {
		d, ok := c.Document(tc.Expected)
		if !ok {
			t.Errorf("expected file %q not in corpus", tc.Expected)
			continue
		}
		if !containsWords(d, tc.Query) {
			t.Errorf("%s does not contain every word of %q", tc.Expected, tc.Query)
		}
	}
}

func TestFileBytes_AllExtensionsExtractable(t *testing.T) {
	e := extract.NewExtractor(0)
	const sample = "Searchable fixture content"
	for _, ext := range FileExtensions {
		t.Run(ext, func(t *testing.T) {
			content, err := FileBytes(ext, "Title\n\n"+sample)
			if err != nil {
				t.Fatalf("FileBytes: %v", err)
			}
			s := extract.SniffBytes(content, "fixture"+ext)
			units, err := e.Chunk(s.Kind, extract.Source{Path: "fixture" + ext, Content: content})
			if err != nil {
				t.Fatalf("Chunk(%s): %v", s.Kind, err)
			}
			got := strings.Join(extract.Texts(units), "\n")
			if !strings.Contains(got, sample) {
				t.Errorf("extracted %q does not contain %q", got, sample)
			}
		})
	}
}

func TestFileBytes_UnknownExtension(t *testing.T) {
	if _, err := FileBytes(".bin", "x"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}
