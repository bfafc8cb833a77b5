package extract

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/knowd-ai/knowd/pkg/apperr"
)

// extractCSV emits the header row, then renders each record as
// "header: value; header: value" so column context survives chunking
// and embedding.
func extractCSV(data []byte) (*Result, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return &Result{Text: "", Metadata: map[string]any{}}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Extraction, err, "read csv header")
	}

	var sb strings.Builder
	names := make([]string, 0, len(header))
	for _, name := range header {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString("\n")
	}

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Extraction, err, "read csv row %d", rows+2)
		}
		pairs := make([]string, 0, len(record))
		for i, value := range record {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			name := ""
			if i < len(header) {
				name = strings.TrimSpace(header[i])
			}
			if name == "" {
				pairs = append(pairs, value)
			} else {
				pairs = append(pairs, name+": "+value)
			}
		}
		if len(pairs) > 0 {
			sb.WriteString(strings.Join(pairs, "; "))
			sb.WriteString("\n")
		}
		rows++
	}

	return &Result{
		Text:     strings.TrimSpace(sb.String()),
		Metadata: map[string]any{"rows": rows, "columns": len(header)},
	}, nil
}
