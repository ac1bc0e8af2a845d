package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/riskmate/riskmate/internal/db/models"
)

// PDF file names inside a proof pack
const (
	LedgerExportPDF  = "ledger_export.pdf"
	EvidenceIndexPDF = "evidence_index.pdf"
	ControlsPDF      = "controls.pdf"
	AttestationsPDF  = "attestations.pdf"
)

const (
	pageWidth  = 277.0 // A4 landscape minus 10mm margins
	lineHeight = 6.0
	timeLayout = "2006-01-02 15:04 UTC"
)

// Document is the data every PDF in one pack is rendered from
type Document struct {
	ExportID       string
	OrganizationID string
	GeneratedAt    time.Time
	Filters        Filters
	Events         []*models.AuditEvent
	Evidence       []models.EvidenceRequirement
	Controls       []models.Control
	Attestations   []models.Attestation
}

type column struct {
	title string
	width float64
}

// page wraps an fpdf document with the pack's header, ribbon and text cleaning
type page struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func newPage(title string, d *Document) *page {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(d.GeneratedAt.UTC())
	pdf.SetModificationDate(d.GeneratedAt.UTC())
	pdf.SetTitle(title, true)
	pdf.SetAuthor("RiskMate", false)
	pdf.SetProducer("RiskMate ledger", false)
	pdf.AliasNbPages("")

	p := &page{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, p.text(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, p.text("Export "+d.ExportID+"  |  Organization "+d.OrganizationID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, "Generated "+d.GeneratedAt.UTC().Format(timeLayout), "", 1, "L", false, 0, "")
	pdf.Ln(2)
	p.ribbon(d.Filters)
	pdf.Ln(3)
	return p
}

// text cleans s and converts it to the core font encoding
func (p *page) text(s string) string {
	return p.tr(SanitizeText(s))
}

// ribbon draws the summary band with the active filter count
func (p *page) ribbon(f Filters) {
	active := f.Active()
	parts := make([]string, len(active))
	for i, af := range active {
		parts[i] = af.Label + "=" + af.Value
	}
	detail := "none"
	if len(parts) > 0 {
		detail = strings.Join(parts, ", ")
	}

	p.pdf.SetFillColor(230, 236, 245)
	p.pdf.SetFont("Helvetica", "B", 10)
	p.pdf.CellFormat(45, 8, fmt.Sprintf("Active Filters: %d", ActiveFilterCount(f)), "", 0, "L", true, 0, "")
	p.pdf.SetFont("Helvetica", "", 9)
	p.pdf.CellFormat(0, 8, p.fit(detail, pageWidth-45), "", 1, "L", true, 0, "")
}

// fit shortens s until it fits in width millimetres
func (p *page) fit(s string, width float64) string {
	s = p.text(s)
	if p.pdf.GetStringWidth(s) <= width-2 {
		return s
	}
	r := []byte(s)
	for len(r) > 0 && p.pdf.GetStringWidth(string(r)+"...") > width-2 {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}

func (p *page) table(cols []column, rows [][]string) {
	p.pdf.SetFont("Helvetica", "B", 9)
	p.pdf.SetFillColor(210, 210, 210)
	for _, c := range cols {
		p.pdf.CellFormat(c.width, lineHeight+1, c.title, "1", 0, "L", true, 0, "")
	}
	p.pdf.Ln(-1)

	p.pdf.SetFont("Helvetica", "", 8)
	if len(rows) == 0 {
		p.pdf.CellFormat(pageWidth, lineHeight, "No records match the selected filters.", "1", 1, "C", false, 0, "")
		return
	}
	for _, row := range rows {
		for i, c := range cols {
			p.pdf.CellFormat(c.width, lineHeight, p.fit(row[i], c.width), "1", 0, "L", false, 0, "")
		}
		p.pdf.Ln(-1)
	}
}

func (p *page) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// RenderLedgerExport renders the filtered ledger slice in stored order
func RenderLedgerExport(d *Document) ([]byte, error) {
	p := newPage("Ledger Export", d)
	p.pdf.SetFont("Helvetica", "", 9)
	p.pdf.CellFormat(0, 5, fmt.Sprintf("%d events", len(d.Events)), "", 1, "L", false, 0, "")
	p.pdf.Ln(1)

	cols := []column{
		{"Time", 34}, {"Event", 42}, {"Category", 24}, {"Severity", 18},
		{"Outcome", 18}, {"Actor", 45}, {"Target", 36}, {"Summary", 60},
	}
	rows := make([][]string, 0, len(d.Events))
	for _, e := range d.Events {
		actor := deref(e.ActorEmail)
		if actor == "" {
			actor = deref(e.ActorID)
		}
		if role := deref(e.ActorRole); role != "" {
			actor += " (" + role + ")"
		}
		target := e.TargetType
		if id := deref(e.TargetID); id != "" {
			target += ":" + id
		}
		created := e.CreatedAt
		rows = append(rows, []string{
			formatTime(&created), e.EventName, e.Category, e.Severity,
			e.Outcome, actor, target, e.Summary,
		})
	}
	p.table(cols, rows)
	return p.bytes()
}

// RenderEvidenceIndex lists the evidence requirements in scope
func RenderEvidenceIndex(d *Document) ([]byte, error) {
	p := newPage("Evidence Index", d)
	cols := []column{
		{"Requirement", 90}, {"Job", 55}, {"Status", 30}, {"Fulfilled", 22}, {"Due", 40}, {"Created", 40},
	}
	rows := make([][]string, 0, len(d.Evidence))
	for _, ev := range d.Evidence {
		fulfilled := "no"
		if ev.Fulfilled {
			fulfilled = "yes"
		}
		created := ev.CreatedAt
		rows = append(rows, []string{
			ev.Name, deref(ev.JobID), ev.Status, fulfilled, formatTime(ev.DueAt), formatTime(&created),
		})
	}
	p.table(cols, rows)
	return p.bytes()
}

// RenderControls lists the controls in scope with their verification state
func RenderControls(d *Document) ([]byte, error) {
	p := newPage("Controls", d)
	cols := []column{
		{"Control", 90}, {"Job", 50}, {"Status", 27}, {"Severity", 24}, {"Due", 43}, {"Verified", 43},
	}
	rows := make([][]string, 0, len(d.Controls))
	for _, c := range d.Controls {
		rows = append(rows, []string{
			c.Name, deref(c.JobID), c.Status, c.Severity, formatTime(c.DueAt), formatTime(c.VerifiedAt),
		})
	}
	p.table(cols, rows)
	return p.bytes()
}

// RenderAttestations lists attestation requests and signatures in scope
func RenderAttestations(d *Document) ([]byte, error) {
	p := newPage("Attestations", d)
	cols := []column{
		{"Attestation", 80}, {"Signer", 55}, {"Job", 42}, {"Status", 20}, {"Requested", 40}, {"Signed", 40},
	}
	rows := make([][]string, 0, len(d.Attestations))
	for _, a := range d.Attestations {
		rows = append(rows, []string{
			a.Title, deref(a.SignerEmail), deref(a.JobID), a.Status, formatTime(a.RequestedAt), formatTime(a.SignedAt),
		})
	}
	p.table(cols, rows)
	return p.bytes()
}

// renderers is every PDF in a pack, keyed by file name
var renderers = []struct {
	name   string
	render func(*Document) ([]byte, error)
}{
	{LedgerExportPDF, RenderLedgerExport},
	{EvidenceIndexPDF, RenderEvidenceIndex},
	{ControlsPDF, RenderControls},
	{AttestationsPDF, RenderAttestations},
}
