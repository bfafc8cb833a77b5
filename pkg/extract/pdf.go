package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/knowd-ai/knowd/pkg/apperr"
)

// minCharsPerPage is the average printable character count below which a PDF
// is probably a scan and gets flagged for OCR.
const minCharsPerPage = 50

func extractPDF(data []byte) (*Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.Extraction, err, "open pdf")
	}

	var sb strings.Builder
	pages := reader.NumPage()
	for i := 1; i <= pages; i++ {
		text, err := pageText(reader, i)
		if err != nil {
			// A single corrupt page should not sink the document.
			continue
		}
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	text := strings.TrimSpace(sb.String())
	metadata := map[string]any{"page_count": pages}
	if pages > 0 && printableCount(text)/pages < minCharsPerPage {
		metadata["needs_ocr"] = true
	}
	return &Result{Text: text, Metadata: metadata}, nil
}

// pageText isolates the parser's panics; the library throws on malformed
// content streams.
func pageText(reader *pdf.Reader, number int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page %d: %v", number, r)
		}
	}()
	page := reader.Page(number)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}
