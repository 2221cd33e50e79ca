package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"kb-rag/internal/helper"
)

// Page is one unit of extracted text: a PDF page, a slide, a sheet, or the
// whole file for unpaged formats. Text is raw; cleaning happens on the way
// into the chunker.
type Page struct {
	DocumentID   string
	DocumentName string
	Number       int
	Text         string
}

// ExtractPages pulls per-page text out of a document file. The document id is
// derived from the file name, so re-uploading the same file targets the same
// id.
func ExtractPages(filePath string) ([]Page, error) {
	name := filepath.Base(filePath)
	docID := helper.DeterministicID(name)

	var texts []string
	var err error
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".pdf":
		texts, err = extractPDF(filePath)
	case ".docx":
		texts, err = extractDOCX(filePath)
	case ".pptx":
		texts, err = extractPPTX(filePath)
	case ".xlsx":
		texts, err = extractXLSX(filePath)
	case ".ods":
		texts, err = extractODS(filePath)
	case ".md":
		texts, err = extractMarkdown(filePath)
	case ".txt":
		texts, err = extractText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, err
	}

	var pages []Page
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{
			DocumentID:   docID,
			DocumentName: name,
			Number:       i + 1,
			Text:         text,
		})
	}
	return pages, nil
}

func extractPDF(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var texts []string
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			texts = append(texts, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting page %d: %w", i, err)
		}
		texts = append(texts, pageText)
	}
	return texts, nil
}

func extractDOCX(filePath string) ([]string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// DOCX carries no page boundaries; the whole body is one page.
	content := r.Editable().GetContent()
	return []string{stripXMLTags(content)}, nil
}

func extractPPTX(filePath string) ([]string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var texts []string
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		texts = append(texts, extractTextFromXML(string(data)))
	}
	return texts, nil
}

func extractXLSX(filePath string) ([]string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var texts []string
	for _, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString("Sheet: " + sheet.Name + "\n")
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
		texts = append(texts, text.String())
	}
	return texts, nil
}

func extractODS(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var texts []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString("Sheet: " + sheetName + "\n")
		for _, row := range rows {
			for _, cell := range row {
				text.WriteString(cell + "\t")
			}
			text.WriteString("\n")
		}
		texts = append(texts, text.String())
	}
	return texts, nil
}

func extractText(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		endIdx := strings.Index(part, "</a:t>")
		if endIdx >= 0 {
			text.WriteString(part[:endIdx] + " ")
		}
	}
	return text.String()
}

func stripXMLTags(content string) string {
	var text strings.Builder
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
			text.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			text.WriteRune(r)
		}
	}
	return text.String()
}
