package extract

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
)

// chunkImage returns the whole image as one unit. The image must decode.
func chunkImage(_ *Extractor, src Source) ([]Unit, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src.Content))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("decode image: empty %s", format)
	}
	return []Unit{{Text: Caption(src.Path), Image: src.Content}}, nil
}

// Caption describes an image by its file name: "a photo of airplane 001" for
// airplane_001.jpg.
func Caption(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
	if len(words) == 0 {
		return "a photo"
	}
	return "a photo of " + strings.ToLower(strings.Join(words, " "))
}
