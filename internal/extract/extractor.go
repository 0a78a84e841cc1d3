// Package extract splits files into embeddable units: text windows, pages,
// paragraphs, sheets, slides or a single image.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLineWindow is the number of lines per text unit.
const DefaultLineWindow = 10

// Unit is one chunk of a file. Exactly one of Text and Image is the payload;
// image units carry a caption in Text for embedders that cannot see images.
type Unit struct {
	Text  string
	Image []byte
}

// IsImage reports whether the unit carries image bytes.
func (u Unit) IsImage() bool { return len(u.Image) > 0 }

// Document is the extraction result for one file.
type Document struct {
	Path  string
	Kind  FileKind
	MIME  string
	Units []Unit
}

// Source is the input handed to a ChunkFunc.
type Source struct {
	Path    string
	Content []byte
}

// ChunkFunc turns file content into units.
type ChunkFunc func(e *Extractor, src Source) ([]Unit, error)

// Extractor dispatches files to a chunker by kind.
type Extractor struct {
	lineWindow int
	chunkers   map[FileKind]ChunkFunc
}

// NewExtractor returns an Extractor with the default chunkers. lineWindow <= 0
// uses DefaultLineWindow.
func NewExtractor(lineWindow int) *Extractor {
	if lineWindow <= 0 {
		lineWindow = DefaultLineWindow
	}
	return &Extractor{
		lineWindow: lineWindow,
		chunkers: map[FileKind]ChunkFunc{
			KindText:         chunkText,
			KindMarkdown:     chunkMarkdown,
			KindPDF:          chunkPDF,
			KindWord:         chunkDOCX,
			KindImage:        chunkImage,
			KindSpreadsheet:  chunkSpreadsheet,
			KindPresentation: chunkPPTX,
			KindOpenDocument: chunkOpenDocument,
			KindRTF:          chunkRTF,
		},
	}
}

// Supports reports whether files of kind produce units.
func (e *Extractor) Supports(kind FileKind) bool {
	_, ok := e.chunkers[kind]
	return ok
}

// Extract sniffs and chunks the file at path. Unknown kinds yield a document
// with no units. On a chunker error the returned document still carries the
// sniffed kind and media type.
func (e *Extractor) Extract(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	s := SniffBytes(content, path)
	doc := &Document{Path: path, Kind: s.Kind, MIME: s.MIME}
	units, err := e.Chunk(s.Kind, Source{Path: path, Content: content})
	if err != nil {
		return doc, fmt.Errorf("extract %s %s: %w", s.Kind, filepath.Base(path), err)
	}
	doc.Units = units
	return doc, nil
}

// Chunk runs the chunker registered for kind.
func (e *Extractor) Chunk(kind FileKind, src Source) ([]Unit, error) {
	fn, ok := e.chunkers[kind]
	if !ok {
		return []Unit{}, nil
	}
	units, err := fn(e, src)
	if err != nil {
		return nil, err
	}
	if units == nil {
		units = []Unit{}
	}
	return units, nil
}

// Texts returns the text of every unit, using captions for images.
func Texts(units []Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Text
	}
	return out
}

func textUnits(texts []string) []Unit {
	units := make([]Unit, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			continue
		}
		units = append(units, Unit{Text: t})
	}
	return units
}
