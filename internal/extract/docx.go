package extract

import (
	"archive/zip"
	"fmt"
	"regexp"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// wpTag matches one <w:p> paragraph with any attributes. <w:pPr> and empty <w:p/> do not match.
var wpTag = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*[^/])?>(.*?)</w:p>`)

// The main document part may be renamed; [Content_Types].xml says where it is.
// Attribute order varies between writers.
var (
	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

func findDocxMainDocumentPath(zr *zip.Reader) string {
	ct, err := readZipEntry(zr, contentTypesPath)
	if err != nil || ct == nil {
		return ""
	}
	if m := partNameRe.FindSubmatch(ct); len(m) > 1 {
		return strings.TrimPrefix(string(m[1]), "/")
	}
	if m := partNameRe2.FindSubmatch(ct); len(m) > 1 {
		return strings.TrimPrefix(string(m[1]), "/")
	}
	return ""
}

// chunkDOCX returns one unit per non-empty paragraph of the main document.
func chunkDOCX(_ *Extractor, src Source) ([]Unit, error) {
	zr, err := openZip(src.Content)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}
	docPath := findDocxMainDocumentPath(zr)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	doc, err := readZipEntry(zr, docPath)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("extract DOCX: %s not found", docPath)
	}
	return textUnits(xmlBlocks(doc, wpTag)), nil
}
