// Package report renders historical readings as CSV or PDF documents.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"

	"github.com/go-pdf/fpdf"
)

var (
	ErrNoData        = errors.New("no readings in the selected range")
	ErrInvalidRange  = errors.New("start date is after end date")
	ErrUnknownFormat = errors.New("unknown report format")
)

// Format is an output format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts "csv" or "pdf" in any case.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownFormat)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

const (
	pdfTitle         = "Historical Air Quality Report"
	csvTimeLayout    = "2006-01-02 15:04:05"
	pdfTimeLayout    = "02/01/06 15:04:05"
	periodDateLayout = "02/01/2006"
)

// zoneLabels shortens well-known zone names for column headers.
var zoneLabels = map[string]string{
	"America/Mexico_City": "CDMX",
}

// Document is the input of a render: the readings of one sensor over a
// calendar period.
type Document struct {
	SensorName string
	// From and To are the first and last calendar days of the period.
	From, To time.Time
	Readings []models.Reading
	Location *time.Location
}

func (d Document) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}

// sorted returns the readings in ascending timestamp order without
// modifying the document.
func (d Document) sorted() []models.Reading {
	out := make([]models.Reading, len(d.Readings))
	copy(out, d.Readings)
	models.SortReadings(out)
	return out
}

// ZoneLabel is the time zone shown in column headers.
func ZoneLabel(loc *time.Location) string {
	if loc == nil {
		return "UTC"
	}
	if label, ok := zoneLabels[loc.String()]; ok {
		return label
	}
	return loc.String()
}

func timeHeader(loc *time.Location) string {
	return fmt.Sprintf("Date/Time (%s)", ZoneLabel(loc))
}

const valueHeader = "Reading (ppm)"

// FormatValue renders a reading with two decimals.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Write renders doc in format f.
func Write(w io.Writer, f Format, doc Document) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, doc)
	case FormatPDF:
		return WritePDF(w, doc)
	}
	return fmt.Errorf("%q: %w", f, ErrUnknownFormat)
}

// WriteCSV writes a header row and one row per reading, oldest first.
func WriteCSV(w io.Writer, doc Document) error {
	loc := doc.location()
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{timeHeader(loc), valueHeader}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range doc.sorted() {
		row := []string{r.Time().In(loc).Format(csvTimeLayout), FormatValue(r.Value)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadCSV parses a document written by WriteCSV back into readings. Times
// are read in loc, which must match the zone the file was written in.
func ReadCSV(r io.Reader, loc *time.Location) ([]models.Reading, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if header[1] != valueHeader {
		return nil, fmt.Errorf("unexpected csv header %q", header)
	}

	var readings []models.Reading
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		at, err := time.ParseInLocation(csvTimeLayout, row[0], loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(readings)+2, err)
		}
		value, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(readings)+2, err)
		}
		readings = append(readings, models.Reading{Timestamp: at.UnixMilli(), Value: value})
	}
	return readings, nil
}

// WritePDF writes an A4 document with a title block and a two-column table.
// The table header is repeated on every page.
func WritePDF(w io.Writer, doc Document) error {
	loc := doc.location()

	pdf := fpdf.New("P", "mm", "A4", "")
	// Core fonts are cp1252; sensor names may carry accents.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(pdfTitle, false)
	pdf.SetCreator("AetherEye", false)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(false, 15)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, pdfTitle, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 7, tr("Sensor: "+doc.SensorName), "", 1, "C", false, 0, "")
	period := fmt.Sprintf("Period: %s - %s", doc.From.Format(periodDateLayout), doc.To.Format(periodDateLayout))
	pdf.CellFormat(0, 7, period, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pageW, pageH := pdf.GetPageSize()
	left, _, right, bottom := pdf.GetMargins()
	colW := (pageW - left - right) / 2
	const rowH = 7.0

	header := func() {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetFillColor(225, 232, 240)
		pdf.CellFormat(colW, rowH+1, timeHeader(loc), "1", 0, "L", true, 0, "")
		pdf.CellFormat(colW, rowH+1, valueHeader, "1", 1, "R", true, 0, "")
		pdf.SetFont("Helvetica", "", 10)
	}

	header()
	for _, r := range doc.sorted() {
		if pdf.GetY()+rowH > pageH-bottom {
			pdf.AddPage()
			header()
		}
		pdf.CellFormat(colW, rowH, r.Time().In(loc).Format(pdfTimeLayout), "1", 0, "L", false, 0, "")
		pdf.CellFormat(colW, rowH, FormatValue(r.Value), "1", 1, "R", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

// FileName is the download name for a report generated at now.
func FileName(sensorName string, f Format, now time.Time) string {
	name := strings.ReplaceAll(strings.TrimSpace(sensorName), " ", "_")
	return fmt.Sprintf("Report_%s_%d.%s", name, now.UnixMilli(), f)
}
