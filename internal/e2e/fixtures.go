package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// FileBytes renders text as a minimal file of the given extension. Plain
// formats hold the text as is; office formats put each paragraph in its
// own element.
func FileBytes(ext, text string) ([]byte, error) {
	paragraphs := splitParagraphs(text)
	switch ext {
	case ".txt", ".rst":
		return []byte(text), nil
	case ".md":
		return []byte("# " + text), nil
	case ".docx":
		return zipOf(map[string]string{"word/document.xml": docxXML(paragraphs)})
	case ".pptx":
		entries := make(map[string]string, len(paragraphs))
		for i, p := range paragraphs {
			entries[fmt.Sprintf("ppt/slides/slide%d.xml", i+1)] = slideXML(p)
		}
		return zipOf(entries)
	case ".odt", ".ods", ".odp":
		return zipOf(map[string]string{"content.xml": odfXML(paragraphs)})
	case ".xlsx":
		return xlsxBytes(paragraphs)
	default:
		return nil, fmt.Errorf("no fixture writer for %s", ext)
	}
}

// WriteCorpus writes every corpus document into dir.
func WriteCorpus(dir string, c *Corpus) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, d := range c.Documents {
		data, err := FileBytes(d.Ext, d.Text())
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, d.FileName()), data, 0644); err != nil {
			return err
		}
	}
	return nil
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func docxXML(paragraphs []string) string {
	var b strings.Builder
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		b.WriteString(`<w:p><w:r><w:t>` + html.EscapeString(p) + `</w:t></w:r></w:p>`)
	}
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func slideXML(text string) string {
	return `<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` +
		html.EscapeString(text) + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func odfXML(paragraphs []string) string {
	var b strings.Builder
	b.WriteString(`<office:document-content><office:body><office:text>`)
	for _, p := range paragraphs {
		b.WriteString(`<text:p>` + html.EscapeString(p) + `</text:p>`)
	}
	b.WriteString(`</office:text></office:body></office:document-content>`)
	return b.String()
}

func xlsxBytes(paragraphs []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	for i, p := range paragraphs {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue("Sheet1", cell, p); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zipOf(entries map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		fw, err := w.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
