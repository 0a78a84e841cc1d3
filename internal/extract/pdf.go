package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// chunkPDF returns one unit per page that has text. The pdf reader panics on
// some malformed streams; that is reported as an error.
func chunkPDF(_ *Extractor, src Source) (units []Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			units, err = nil, fmt.Errorf("malformed PDF: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(src.Content), int64(len(src.Content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return textUnits(pages), nil
}
