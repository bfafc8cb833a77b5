package extract

import (
	"bytes"
	"unicode/utf8"

	"github.com/knowd-ai/knowd/pkg/apperr"
	"github.com/knowd-ai/knowd/pkg/store"
)

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
)

// VerifyMagic checks that the content plausibly matches the declared type.
// Binary formats are checked by signature; text formats only need to not be
// a disguised binary.
func VerifyMagic(fileType store.FileType, data []byte) error {
	switch fileType {
	case store.FileTypePDF:
		if !bytes.HasPrefix(data, pdfMagic) {
			return apperr.New(apperr.Validation, "content is not a PDF")
		}
	case store.FileTypeDOCX:
		if !bytes.HasPrefix(data, zipMagic) {
			return apperr.New(apperr.Validation, "content is not a DOCX archive")
		}
	case store.FileTypeTXT, store.FileTypeMD, store.FileTypeCSV:
		if bytes.HasPrefix(data, pdfMagic) || bytes.HasPrefix(data, zipMagic) {
			return apperr.New(apperr.Validation, "binary content declared as %s", fileType)
		}
		if looksBinary(data) {
			return apperr.New(apperr.Validation, "content is not text")
		}
	default:
		return apperr.New(apperr.Validation, "unsupported file type %q", fileType)
	}
	return nil
}

// looksBinary samples the head of the file for NUL bytes and invalid UTF-8.
func looksBinary(data []byte) bool {
	sample := data
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return true
	}
	var invalid, total int
	for len(sample) > 0 {
		r, size := utf8.DecodeRune(sample)
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		total++
		sample = sample[size:]
	}
	return total > 0 && float64(invalid)/float64(total) > 0.1
}
