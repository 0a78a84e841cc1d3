package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip: %w", err)
	}
	return zr, nil
}

// readZipEntry returns the named entry, or nil if the archive has none.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readZipFile(f)
		}
	}
	return nil, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

var (
	xmlTag    = regexp.MustCompile(`<[^>]*>`)
	xmlBreaks = regexp.MustCompile(`<(?:w:br|w:tab|a:br|text:line-break|text:tab|text:s)\b[^>]*/>`)
)

var xmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// xmlText strips markup from an XML fragment, keeping runs separated where the
// format inserts breaks or tabs, and collapses whitespace.
func xmlText(fragment string) string {
	fragment = xmlBreaks.ReplaceAllString(fragment, " ")
	fragment = xmlTag.ReplaceAllString(fragment, "")
	return strings.Join(strings.Fields(xmlEntities.Replace(fragment)), " ")
}

// xmlBlocks returns the text of every element matched by re, in document order.
func xmlBlocks(doc []byte, re *regexp.Regexp) []string {
	matches := re.FindAllSubmatch(doc, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, xmlText(string(m[len(m)-1])))
	}
	return out
}
