package extract

import (
	"archive/zip"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const pptxSlidePathPrefix = "ppt/slides/slide"

var (
	atTag    = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
	slideNum = regexp.MustCompile(`(\d+)\.xml$`)
)

// chunkPPTX returns one unit per slide with text, in slide number order.
func chunkPPTX(_ *Extractor, src Source) ([]Unit, error) {
	zr, err := openZip(src.Content)
	if err != nil {
		return nil, fmt.Errorf("extract PPTX: %w", err)
	}
	slides := make([]*zip.File, 0)
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, pptxSlidePathPrefix) && path.Dir(f.Name) == "ppt/slides" && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f)
		}
	}
	// slide10.xml sorts after slide9.xml.
	sort.SliceStable(slides, func(i, j int) bool {
		return slideNumber(slides[i].Name) < slideNumber(slides[j].Name)
	})

	texts := make([]string, 0, len(slides))
	for _, f := range slides {
		data, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: %w", err)
		}
		runs := xmlBlocks(data, atTag)
		texts = append(texts, strings.TrimSpace(strings.Join(runs, " ")))
	}
	return textUnits(texts), nil
}

func slideNumber(name string) int {
	m := slideNum.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
