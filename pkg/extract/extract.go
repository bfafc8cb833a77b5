// Package extract turns uploaded files into plain text for chunking.
// Each format has its own extractor; dispatch is by declared file type,
// verified against the file's magic bytes.
package extract

import (
	"strings"
	"unicode"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/store"
)

// Result is the extracted text plus anything the extractor learned about
// the file along the way.
type Result struct {
	Text     string
	Metadata map[string]any
}

// Extract dispatches on the declared file type. The declared type must match
// the content's magic bytes; a mismatch is a validation error, not a
// best-effort fallback.
func Extract(fileType store.FileType, data []byte) (*Result, error) {
	if err := VerifyMagic(fileType, data); err != nil {
		return nil, err
	}

	var result *Result
	var err error
	switch fileType {
	case store.FileTypePDF:
		result, err = extractPDF(data)
	case store.FileTypeDOCX:
		result, err = extractDOCX(data)
	case store.FileTypeTXT, store.FileTypeMD:
		result, err = extractText(data)
	case store.FileTypeCSV:
		result, err = extractCSV(data)
	default:
		return nil, apperr.New(apperr.Validation, "unsupported file type %q", fileType)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(result.Text) == "" {
		return nil, apperr.New(apperr.EmptyDocument, "no extractable text")
	}
	return result, nil
}

// printableCount counts letters, digits and common punctuation. PDFs with
// almost none per page are usually scans that need OCR.
func printableCount(text string) int {
	var n int
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsPunct(r) {
			n++
		}
	}
	return n
}
