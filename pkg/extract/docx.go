package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/knowd-ai/knowd/pkg/apperr"
)

func extractDOCX(data []byte) (*Result, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.Extraction, err, "open docx")
	}

	var body, core []byte
	for _, file := range archive.File {
		switch file.Name {
		case "word/document.xml":
			body, err = readZipFile(file)
		case "docProps/core.xml":
			core, err = readZipFile(file)
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Extraction, err, "read %s", file.Name)
		}
	}
	if body == nil {
		return nil, apperr.New(apperr.Extraction, "docx has no word/document.xml")
	}

	text, err := docxBodyText(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Extraction, err, "parse docx body")
	}

	metadata := map[string]any{}
	if core != nil {
		for key, value := range docxCoreProps(core) {
			metadata[key] = value
		}
	}
	return &Result{Text: text, Metadata: metadata}, nil
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// docxBodyText walks the document token stream. Paragraphs become lines
// separated by blank lines; table rows become "cell | cell" lines; headings
// keep their style as a "#" prefix so structure survives into the chunks.
func docxBodyText(body []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))

	var sb strings.Builder
	var paragraph strings.Builder
	var row []string
	var heading string
	inCell := false

	flushParagraph := func() {
		text := strings.TrimSpace(paragraph.String())
		paragraph.Reset()
		if text == "" {
			return
		}
		if heading != "" {
			text = heading + " " + text
		}
		if inCell {
			// Paragraphs inside a cell merge; the row flush renders them.
			if len(row) == 0 {
				row = append(row, text)
			} else {
				row[len(row)-1] = strings.TrimSpace(row[len(row)-1] + " " + text)
			}
			return
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tr":
				row = row[:0]
			case "tc":
				inCell = true
				row = append(row, "")
			case "p":
				heading = ""
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" && strings.HasPrefix(attr.Value, "Heading") {
						heading = "#"
					}
				}
			case "t":
				var text string
				if err := decoder.DecodeElement(&text, &t); err != nil {
					return "", err
				}
				paragraph.WriteString(text)
			case "tab":
				paragraph.WriteString("\t")
			case "br":
				paragraph.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				flushParagraph()
				heading = ""
			case "tc":
				inCell = false
			case "tr":
				line := strings.TrimSpace(strings.Join(row, " | "))
				if line != "" {
					sb.WriteString(line)
					sb.WriteString("\n")
				}
				row = row[:0]
			case "tbl":
				sb.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

type docxCore struct {
	Title    string `xml:"title"`
	Creator  string `xml:"creator"`
	Created  string `xml:"created"`
	Modified string `xml:"modified"`
}

func docxCoreProps(core []byte) map[string]any {
	var props docxCore
	if err := xml.Unmarshal(core, &props); err != nil {
		return nil
	}
	out := map[string]any{}
	if props.Title != "" {
		out["title"] = props.Title
	}
	if props.Creator != "" {
		out["author"] = props.Creator
	}
	if props.Created != "" {
		out["created"] = props.Created
	}
	if props.Modified != "" {
		out["modified"] = props.Modified
	}
	return out
}
