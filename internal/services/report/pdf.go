package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	pageWidth  = 190.0 // A4 minus 10mm margins
	lineHeight = 5.0
	baseFont   = "Arial"
	baseSize   = 9.0
)

// RenderPDF lays out a markdown report on A4 pages. Headings, paragraphs,
// emphasis, bullet lists and tables are supported.
func RenderPDF(markdown string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()
	pdf.SetFont(baseFont, "", baseSize)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	r := &pdfRenderer{pdf: pdf, source: source}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, fmt.Errorf("failed to lay out report: %w", err)
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}
	return buf.Bytes(), nil
}

type pdfRenderer struct {
	pdf       *fpdf.Fpdf
	source    []byte
	bold      bool
	italic    bool
	listLevel int
}

func (r *pdfRenderer) setFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont(baseFont, style, baseSize)
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			r.pdf.Ln(4)
			size := 14.0
			if node.Level > 1 {
				size = 11
			}
			r.pdf.SetFont(baseFont, "B", size)
		} else {
			r.pdf.Ln(8)
			r.setFont()
		}
	case *ast.Paragraph:
		if !entering && r.listLevel == 0 {
			r.pdf.Ln(lineHeight + 1)
		}
	case *ast.Text:
		if entering {
			r.pdf.Write(lineHeight, string(node.Segment.Value(r.source)))
			if node.HardLineBreak() || node.SoftLineBreak() {
				r.pdf.Ln(lineHeight)
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.setFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", baseSize)
			r.pdf.Write(lineHeight, string(node.Text(r.source)))
			r.setFont()
		}
		return ast.WalkSkipChildren, nil
	case *ast.List:
		if entering {
			r.listLevel++
		} else {
			r.listLevel--
			if r.listLevel == 0 {
				r.pdf.Ln(lineHeight)
			}
		}
	case *ast.ListItem:
		if entering {
			if r.pdf.GetX() > 11 {
				r.pdf.Ln(lineHeight)
			}
			r.pdf.SetX(10 + float64(r.listLevel)*5)
			r.pdf.Write(lineHeight, "- ")
		}
	case *extast.Table:
		if entering {
			r.renderTable(r.tableRows(node))
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) tableRows(table *extast.Table) [][]string {
	var rows [][]string
	for child := table.FirstChild(); child != nil; child = child.NextSibling() {
		switch row := child.(type) {
		case *extast.TableHeader:
			rows = append(rows, r.cells(row))
		case *extast.TableRow:
			rows = append(rows, r.cells(row))
		}
	}
	return rows
}

func (r *pdfRenderer) cells(row ast.Node) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		cells = append(cells, string(cell.Text(r.source)))
	}
	return cells
}

// renderTable sizes columns by their widest cell and wraps what still does not fit
func (r *pdfRenderer) renderTable(rows [][]string) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}
	cols := len(rows[0])

	r.pdf.SetFont(baseFont, "", 8)
	widths := make([]float64, cols)
	total := 0.0
	for _, row := range rows {
		for j := 0; j < cols && j < len(row); j++ {
			if w := r.pdf.GetStringWidth(row[j]) + 3; w > widths[j] {
				widths[j] = w
			}
		}
	}
	for _, w := range widths {
		total += w
	}
	if total > pageWidth {
		for j := range widths {
			widths[j] = widths[j] * pageWidth / total
		}
	}

	r.pdf.Ln(2)
	for i, row := range rows {
		style, fill := "", false
		if i == 0 {
			style, fill = "B", true
			r.pdf.SetFillColor(230, 230, 230)
		}
		r.pdf.SetFont(baseFont, style, 8)

		lines := 1
		for j := 0; j < cols && j < len(row); j++ {
			if n := len(r.pdf.SplitText(row[j], widths[j]-2)); n > lines {
				lines = n
			}
		}
		height := float64(lines)*4 + 2

		_, pageHeight := r.pdf.GetPageSize()
		_, _, _, bottom := r.pdf.GetMargins()
		if r.pdf.GetY()+height > pageHeight-bottom {
			r.pdf.AddPage()
		}

		x, y := r.pdf.GetX(), r.pdf.GetY()
		for j := 0; j < cols; j++ {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			borderStyle := "D"
			if fill {
				borderStyle = "FD"
			}
			r.pdf.Rect(x, y, widths[j], height, borderStyle)
			r.pdf.SetXY(x+1, y+1)
			r.pdf.MultiCell(widths[j]-2, 4, cell, "", "L", false)
			x += widths[j]
		}
		r.pdf.SetXY(10, y+height)
	}
	r.pdf.Ln(3)
	r.setFont()
}
