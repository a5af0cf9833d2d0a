package services

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// ReportDocument is everything the renderer needs to produce a PDF.
type ReportDocument struct {
	Title       string
	Repository  string
	Author      string
	Branch      string
	CommitCount int
	GeneratedAt time.Time
	Content     string
}

// PDFRenderer turns a report document into PDF bytes.
type PDFRenderer interface {
	Render(doc *ReportDocument) ([]byte, error)
}

// FPDFRenderer renders reports with gofpdf.
type FPDFRenderer struct{}

func NewFPDFRenderer() *FPDFRenderer {
	return &FPDFRenderer{}
}

func (r *FPDFRenderer) Render(doc *ReportDocument) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	// Title block
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetTextColor(30, 30, 30)
	title := doc.Title
	if title == "" {
		title = "Development Report"
	}
	pdf.MultiCell(0, 10, tr(title), "", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	meta := []string{
		fmt.Sprintf("Repository: %s", doc.Repository),
		fmt.Sprintf("Commits: %d", doc.CommitCount),
		fmt.Sprintf("Generated: %s", doc.GeneratedAt.Format("January 2, 2006 15:04 MST")),
	}
	if doc.Branch != "" {
		meta = append(meta, fmt.Sprintf("Branch: %s", doc.Branch))
	}
	if doc.Author != "" {
		meta = append(meta, fmt.Sprintf("Author: %s", doc.Author))
	}
	for _, line := range meta {
		pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetDrawColor(200, 200, 200)
	x, y := pdf.GetX(), pdf.GetY()
	pdf.Line(x, y, 190, y)
	pdf.Ln(6)

	r.renderBody(pdf, tr, doc.Content)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output: %w", err)
	}
	return buf.Bytes(), nil
}

// renderBody emits markdown text with basic heading, list and code
// styling. Unrecognized markup falls through as plain paragraphs.
func (r *FPDFRenderer) renderBody(pdf *gofpdf.Fpdf, tr func(string) string, content string) {
	inCode := false

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimRight(rawLine, " \t")

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCode = !inCode
			pdf.Ln(1)
			continue
		}

		if inCode {
			pdf.SetFont("Courier", "", 9)
			pdf.SetTextColor(60, 60, 60)
			pdf.MultiCell(0, 4.5, tr(line), "", "L", false)
			continue
		}

		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			pdf.Ln(3)
		case strings.HasPrefix(trimmed, "### "):
			pdf.SetFont("Helvetica", "B", 12)
			pdf.SetTextColor(30, 30, 30)
			pdf.MultiCell(0, 6, tr(strings.TrimPrefix(trimmed, "### ")), "", "L", false)
			pdf.Ln(1)
		case strings.HasPrefix(trimmed, "## "):
			pdf.Ln(2)
			pdf.SetFont("Helvetica", "B", 14)
			pdf.SetTextColor(30, 30, 30)
			pdf.MultiCell(0, 7, tr(strings.TrimPrefix(trimmed, "## ")), "", "L", false)
			pdf.Ln(1)
		case strings.HasPrefix(trimmed, "# "):
			pdf.Ln(2)
			pdf.SetFont("Helvetica", "B", 16)
			pdf.SetTextColor(30, 30, 30)
			pdf.MultiCell(0, 8, tr(strings.TrimPrefix(trimmed, "# ")), "", "L", false)
			pdf.Ln(1)
		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
			pdf.SetFont("Helvetica", "", 10)
			pdf.SetTextColor(50, 50, 50)
			pdf.SetX(25)
			pdf.MultiCell(0, 5, tr("• "+stripInlineMarkup(trimmed[2:])), "", "L", false)
			pdf.SetX(20)
		default:
			pdf.SetFont("Helvetica", "", 10)
			pdf.SetTextColor(50, 50, 50)
			pdf.MultiCell(0, 5, tr(stripInlineMarkup(trimmed)), "", "L", false)
		}
	}
}

// stripInlineMarkup drops bold/italic/code markers that would
// otherwise show up literally in the PDF.
func stripInlineMarkup(s string) string {
	replacer := strings.NewReplacer("**", "", "__", "", "`", "")
	return replacer.Replace(s)
}
