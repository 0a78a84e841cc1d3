package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// chunkSpreadsheet returns one unit per sheet with content; cells are tab
// separated and rows newline separated.
func chunkSpreadsheet(_ *Extractor, src Source) ([]Unit, error) {
	f, err := excelize.OpenReader(bytes.NewReader(src.Content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	texts := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var buf strings.Builder
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line == "" {
				continue
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
		texts = append(texts, strings.TrimSpace(buf.String()))
	}
	return textUnits(texts), nil
}
