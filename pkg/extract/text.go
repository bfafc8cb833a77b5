package extract

import (
	"strings"
)

func extractText(data []byte) (*Result, error) {
	// Invalid byte sequences are replaced rather than failing the upload;
	// exports from older systems are rarely clean UTF-8.
	text := strings.ToValidUTF8(string(data), "�")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return &Result{Text: strings.TrimSpace(text), Metadata: map[string]any{}}, nil
}
