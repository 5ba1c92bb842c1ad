package convert

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// ExtractDOCX pulls plain text out of a .docx payload without an
// external dependency. Paragraphs become lines, tab runs become tabs,
// and table cells within a row are joined with " | ".
func ExtractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx open: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return "", fmt.Errorf("docx document.xml: %w", err)
			}
			docXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return "", fmt.Errorf("docx document.xml read: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("docx missing word/document.xml")
	}

	dec := xml.NewDecoder(bytes.NewReader(docXML))

	var out strings.Builder
	var para strings.Builder
	inCell := false
	cellHadText := false

	flushPara := func() {
		line := strings.TrimRight(para.String(), " ")
		para.Reset()
		if inCell {
			if line != "" {
				if cellHadText {
					out.WriteString(" ")
				}
				out.WriteString(line)
				cellHadText = true
			}
			return
		}
		out.WriteString(line)
		out.WriteString("\n")
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return "", fmt.Errorf("docx text run: %w", err)
				}
				para.WriteString(text)
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			case "tc":
				inCell = true
				cellHadText = false
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				flushPara()
			case "tc":
				flushPara()
				out.WriteString(" | ")
				inCell = false
			case "tr":
				out.WriteString("\n")
			}
		}
	}

	text := out.String()
	text = strings.ReplaceAll(text, " | \n", "\n")
	return strings.TrimSpace(text), nil
}
