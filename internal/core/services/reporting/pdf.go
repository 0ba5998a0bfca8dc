// Package reporting produces an operator-facing PDF export of a
// triangulation result and the deauth/baseline detector rollups,
// rendered as a section-by-section gofpdf cell layout with a colored
// headline box and a plain-text footer.
// No map thumbnail is rendered (no mapping library is in the
// dependency set this module draws from); coordinates, uncertainty
// and CEP68 are tabulated instead.
package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/skyline-mesh/sentryhop/internal/core/domain"
)

// Report bundles the sections a node-level export covers: the most
// recent triangulation outcome plus the deauth and baseline
// detectors' already-rendered results text, reused here rather than
// re-deriving a parallel summary shape.
type Report struct {
	NodeID        string
	GeneratedAt   time.Time
	Triangulation domain.TrilaterationResult
	TriHasResult  bool
	DeauthText    string
	BaselineText  string
}

// PDFExporter renders a Report to PDF bytes.
type PDFExporter struct{}

// NewPDFExporter constructs a PDFExporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Export renders report as a single-page (or overflowing) A4 PDF.
func (e *PDFExporter) Export(report Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	e.addHeader(pdf, report)
	if report.TriHasResult {
		e.addTriangulation(pdf, report.Triangulation)
	}
	e.addSection(pdf, "Deauth / Disassoc Detector", report.DeauthText)
	e.addSection(pdf, "Baseline Anomaly Detector", report.BaselineText)
	e.addFooter(pdf, report)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("reporting: generate pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) addHeader(pdf *gofpdf.Fpdf, report Report) {
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 14, fmt.Sprintf("Node Report: %s", report.NodeID), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 6, "Generated: "+report.GeneratedAt.Format("2006-01-02 15:04:05"), "", 1, "L", false, 0, "")
	pdf.Ln(6)
}

func (e *PDFExporter) addTriangulation(pdf *gofpdf.Fpdf, result domain.TrilaterationResult) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, "Triangulation Result", "", 1, "L", false, 0, "")
	pdf.Ln(1)

	if !result.OK {
		pdf.SetFillColor(255, 149, 0)
		pdf.Rect(20, pdf.GetY(), 170, 18, "F")
		y := pdf.GetY()
		pdf.SetFont("Arial", "B", 12)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetXY(25, y+3)
		pdf.CellFormat(160, 6, "No position: "+result.Reason, "", 1, "L", false, 0, "")
		if len(result.NonGPSIDs) > 0 {
			pdf.SetXY(25, y+10)
			pdf.SetFont("Arial", "", 10)
			pdf.CellFormat(160, 6, "Peers without GPS: "+joinIDs(result.NonGPSIDs), "", 1, "L", false, 0, "")
		}
		pdf.SetY(y + 22)
		pdf.Ln(6)
		return
	}

	rows := []struct{ label, value string }{
		{"Latitude", fmt.Sprintf("%.6f", result.Lat)},
		{"Longitude", fmt.Sprintf("%.6f", result.Lon)},
		{"Confidence", fmt.Sprintf("%.2f", result.Confidence)},
		{"95% Uncertainty (m)", fmt.Sprintf("%.1f", result.UncertaintyM95)},
		{"CEP68 (m)", fmt.Sprintf("%.1f", result.CEP68)},
		{"Reporting Nodes", fmt.Sprintf("%d", result.NodeCount)},
	}
	pdf.SetFont("Arial", "", 10)
	for _, row := range rows {
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(60, 7, row.label+":", "", 0, "L", false, 0, "")
		pdf.SetTextColor(0, 102, 204)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 7, row.value, "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
	}
	pdf.Ln(8)
}

func (e *PDFExporter) addSection(pdf *gofpdf.Fpdf, title, text string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.Ln(1)

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(60, 60, 60)
	if text == "" {
		text = "(no data)"
	}
	pdf.MultiCell(0, 5, text, "", "L", false)
	pdf.Ln(6)
}

func (e *PDFExporter) addFooter(pdf *gofpdf.Fpdf, report Report) {
	pdf.SetY(-20)
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(3)
	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 5, "sentryhop node export — "+report.NodeID, "", 1, "C", false, 0, "")
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out
}
