package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lu4p/cat"
)

var blankLines = regexp.MustCompile(`\n[ \t]*\n`)

// chunkRTF returns one unit per blank-line separated paragraph.
func chunkRTF(_ *Extractor, src Source) ([]Unit, error) {
	if src.Path == "" {
		return nil, errors.New("extract RTF: file path required")
	}
	txt, err := cat.File(src.Path)
	if err != nil {
		return nil, fmt.Errorf("extract RTF: %w", err)
	}
	return textUnits(paragraphs(txt)), nil
}

func paragraphs(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	parts := blankLines.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
