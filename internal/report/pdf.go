package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/signintech/gopdf"
)

// DefaultFontPaths are the usual DejaVuSans locations on Alpine and Debian.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

const (
	fontFamily = "DejaVu"
	textWidth  = 500.0
	pageBottom = 790.0
)

type pdfWriter struct {
	pdf gopdf.GoPdf
}

func (w *pdfWriter) line(text string, size float64, lineHeight float64) error {
	if err := w.pdf.SetFont(fontFamily, "", size); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		w.br(lineHeight)
		return nil
	}
	lines, err := w.pdf.SplitText(text, textWidth)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if w.pdf.GetY()+lineHeight > pageBottom {
			w.pdf.AddPage()
		}
		if err := w.pdf.Cell(nil, l); err != nil {
			return err
		}
		w.br(lineHeight)
	}
	return nil
}

func (w *pdfWriter) br(h float64) {
	w.pdf.Br(h)
	if w.pdf.GetY() > pageBottom {
		w.pdf.AddPage()
	}
}

// RenderPDF lays the stored report out on A4 pages. The first font that loads
// from fontPaths is used; DejaVuSans covers Latin and Cyrillic.
func RenderPDF(rep *Report, fontPaths []string) ([]byte, error) {
	w := &pdfWriter{}
	w.pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	w.pdf.SetMargins(40, 40, 40, 40)
	w.pdf.AddPage()

	var fontErr error
	loaded := false
	for _, path := range fontPaths {
		if path == "" {
			continue
		}
		if err := w.pdf.AddTTFFont(fontFamily, path); err != nil {
			fontErr = err
			continue
		}
		loaded = true
		break
	}
	if !loaded {
		return nil, fmt.Errorf("failed to load font for PDF, install ttf-dejavu or set REPORT_FONT_PATH: %w", fontErr)
	}

	if err := w.line(rep.Title, 20, 30); err != nil {
		return nil, err
	}
	patient := rep.PatientID.String()
	if rep.Patient != nil {
		patient = rep.Patient.Name
	}
	if err := w.line("Patient: "+patient, 12, 15); err != nil {
		return nil, err
	}
	if err := w.line("Created: "+rep.CreatedAt.Format("02.01.2006 15:04"), 12, 25); err != nil {
		return nil, err
	}

	for _, paragraph := range strings.Split(rep.Content, "\n") {
		if err := w.line(paragraph, 11, 14); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := w.pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}
