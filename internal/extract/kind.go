package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FileKind selects the chunker used for a file.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindText
	KindMarkdown
	KindPDF
	KindWord
	KindImage
	KindSpreadsheet
	KindPresentation
	KindOpenDocument
	KindRTF
)

var kindNames = map[FileKind]string{
	KindUnknown:      "unknown",
	KindText:         "text",
	KindMarkdown:     "markdown",
	KindPDF:          "pdf",
	KindWord:         "word",
	KindImage:        "image",
	KindSpreadsheet:  "spreadsheet",
	KindPresentation: "presentation",
	KindOpenDocument: "opendocument",
	KindRTF:          "rtf",
}

func (k FileKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("FileKind(%d)", int(k))
}

// Sniffed is the result of content detection for one file.
type Sniffed struct {
	Kind FileKind
	MIME string // media type without parameters
}

// mimeKind maps media types that identify a format on their own.
func mimeKind(media string) (FileKind, bool) {
	switch media {
	case "application/pdf":
		return KindPDF, true
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindWord, true
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return KindSpreadsheet, true
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return KindPresentation, true
	case "application/vnd.oasis.opendocument.text",
		"application/vnd.oasis.opendocument.spreadsheet",
		"application/vnd.oasis.opendocument.presentation":
		return KindOpenDocument, true
	case "text/rtf":
		return KindRTF, true
	case "image/png", "image/jpeg", "image/gif":
		return KindImage, true
	}
	return KindUnknown, false
}

// extKinds refines generic media types (text/plain, application/zip) by extension.
var extKinds = map[string]FileKind{
	".txt":      KindText,
	".text":     KindText,
	".rst":      KindText,
	".log":      KindText,
	".csv":      KindText,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
	".pdf":      KindPDF,
	".docx":     KindWord,
	".xlsx":     KindSpreadsheet,
	".pptx":     KindPresentation,
	".odt":      KindOpenDocument,
	".ods":      KindOpenDocument,
	".odp":      KindOpenDocument,
	".rtf":      KindRTF,
	".png":      KindImage,
	".jpg":      KindImage,
	".jpeg":     KindImage,
	".gif":      KindImage,
}

// Sniff detects the media type of the file at path from its content and maps it to a kind.
func Sniff(path string) (Sniffed, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Sniffed{}, fmt.Errorf("detect type of %s: %w", path, err)
	}
	return sniffed(mt, path), nil
}

// SniffBytes is Sniff for content already in memory; name supplies the extension.
func SniffBytes(content []byte, name string) Sniffed {
	return sniffed(mimetype.Detect(content), name)
}

func sniffed(mt *mimetype.MIME, name string) Sniffed {
	media := baseMIME(mt.String())
	return Sniffed{Kind: KindFor(media, filepath.Ext(name)), MIME: media}
}

// KindFor picks a kind from a media type, falling back to the extension for
// generic containers and text.
func KindFor(media, ext string) FileKind {
	media = baseMIME(media)
	ext = strings.ToLower(ext)
	if k, ok := mimeKind(media); ok {
		return k
	}
	if k, ok := extKinds[ext]; ok {
		if k == KindImage && !strings.HasPrefix(media, "image/") {
			return KindUnknown
		}
		return k
	}
	if strings.HasPrefix(media, "text/") {
		return KindText
	}
	return KindUnknown
}

func baseMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}
