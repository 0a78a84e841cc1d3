package extract

import (
	"fmt"
	"regexp"
)

const odfContentPath = "content.xml"

// odfBlock matches text:p and text:h elements with their attributes. Spans
// nested inside are flattened by xmlText.
var odfBlock = regexp.MustCompile(`(?s)<text:(p|h)(?:\s[^>]*[^/])?>(.*?)</text:(?:p|h)>`)

// chunkOpenDocument returns one unit per non-empty paragraph or heading of an
// .odt, .ods or .odp file. Spreadsheet cells and slide frames hold their text
// in the same elements.
func chunkOpenDocument(_ *Extractor, src Source) ([]Unit, error) {
	zr, err := openZip(src.Content)
	if err != nil {
		return nil, fmt.Errorf("extract OpenDocument: %w", err)
	}
	content, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return nil, fmt.Errorf("extract OpenDocument: %w", err)
	}
	if content == nil {
		return nil, fmt.Errorf("extract OpenDocument: %s not found", odfContentPath)
	}
	return textUnits(xmlBlocks(content, odfBlock)), nil
}
