// Package export renders floorplan BOM views as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/smartplan/smartplan/internal/bom"
)

// SheetName is the worksheet holding the BOM lines.
const SheetName = "BOM"

// ContentType is the media type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var headers = []string{"Model Number", "Name", "Level", "Quantity", "Unit Price", "Line Total"}

// Options controls workbook rendering.
type Options struct {
	Currency currency.Unit
	Language language.Tag
}

// Workbook builds an excelize workbook for the view. Only groups with a
// positive quantity are exported. Child rows repeat the group quantity.
func Workbook(view bom.View, opts Options) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("export: rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true, Size: 11},
		Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("export: header style: %w", err)
	}
	sw := &sheetWriter{f: f}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("export: header cell: %w", err)
		}
		sw.set(cell, h)
		sw.style(cell, cell, headerStyle)
	}

	row := 2
	for _, g := range view.Groups {
		qty := decimal.NewFromInt(int64(g.Quantity))
		sw.line(row, g.Main, "main", g.Quantity, g.Main.Snapshot.Price.Mul(qty))
		row++
		for _, c := range g.Children {
			sw.line(row, c, "addon", g.Quantity, c.Snapshot.Price.Mul(qty))
			row++
		}
	}

	summaryStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("export: summary style: %w", err)
	}
	sw.set(fmt.Sprintf("A%d", row), "Total")
	sw.set(fmt.Sprintf("B%d", row), FormatAmount(view.TotalPrice, opts))
	sw.set(fmt.Sprintf("F%d", row), view.TotalPrice.InexactFloat64())
	sw.style(fmt.Sprintf("A%d", row), fmt.Sprintf("F%d", row), summaryStyle)

	for i, w := range []float64{18, 40, 8, 10, 12, 14} {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("export: column name: %w", err)
		}
		if sw.err == nil {
			sw.err = f.SetColWidth(SheetName, col, col, w)
		}
	}
	if sw.err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("export: fill sheet: %w", sw.err)
	}
	return f, nil
}

// Write renders the view as an xlsx workbook into w.
func Write(w io.Writer, view bom.View, opts Options) error {
	f, err := Workbook(view, opts)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}

// Filename returns the attachment name for a floorplan export.
func Filename(floorplanID int64) string {
	return fmt.Sprintf("BOM_floorplan_%d.xlsx", floorplanID)
}

// FormatAmount renders an amount with the currency symbol for display.
func FormatAmount(amount decimal.Decimal, opts Options) string {
	unit := opts.Currency
	if unit == (currency.Unit{}) {
		unit = currency.EUR
	}
	tag := opts.Language
	if tag == language.Und {
		tag = language.English
	}
	p := message.NewPrinter(tag)
	return p.Sprint(currency.Symbol(unit.Amount(amount.Round(2).InexactFloat64())))
}

// sheetWriter fills cells of the BOM sheet and keeps the first failure.
// Calls after a failure are no-ops.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) set(cell string, v any) {
	if w.err == nil {
		w.err = w.f.SetCellValue(SheetName, cell, v)
	}
}

func (w *sheetWriter) style(from, to string, styleID int) {
	if w.err == nil {
		w.err = w.f.SetCellStyle(SheetName, from, to, styleID)
	}
}

func (w *sheetWriter) line(row int, e bom.Entry, level string, qty int, total decimal.Decimal) error {
	name := e.Snapshot.Name
	if level != "main" {
		name = "  " + name
	}
	w.set(fmt.Sprintf("A%d", row), e.Snapshot.ModelNumber)
	w.set(fmt.Sprintf("B%d", row), name)
	w.set(fmt.Sprintf("C%d", row), level)
	w.set(fmt.Sprintf("D%d", row), qty)
	w.set(fmt.Sprintf("E%d", row), e.Snapshot.Price.InexactFloat64())
	w.set(fmt.Sprintf("F%d", row), total.InexactFloat64())
	return w.err
}
