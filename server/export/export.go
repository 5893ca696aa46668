// Package export writes classification records as a results table, left-joined onto the alert metadata.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cyclopcam/railalert/server/classify"
	"github.com/cyclopcam/railalert/server/metadata"
	"github.com/xuri/excelize/v2"
)

const SheetName = "Results"

// The columns that every record contributes, after the metadata columns
var RecordColumns = []string{
	"location",
	"horizontal_gate",
	"legal_occupier_vehicle",
	"train",
	"truck",
	"accurate_alert",
	"accurate_class",
	"classification",
	"header_text",
}

// Results is the joined table
type Results struct {
	Columns []string
	Rows    [][]string
}

func recordValues(r *classify.Record) []string {
	if r == nil {
		return make([]string, len(RecordColumns))
	}
	return []string{
		r.Location,
		strconv.FormatBool(r.HorizontalGate),
		strconv.FormatBool(r.LegalOccupierVehicle),
		strconv.FormatBool(r.Train),
		strconv.FormatBool(r.Truck),
		strconv.FormatBool(r.AccurateAlert),
		strconv.FormatBool(r.AccurateClass),
		r.Classification,
		r.HeaderText,
	}
}

// Join produces one row per metadata row, in metadata order, with the record of the same
// image appended. Images without a record (skipped, or never classified) get empty record columns.
// If meta is nil, there is one row per record, with Image as the only leading column.
func Join(meta *metadata.Table, records []classify.Record) *Results {
	byImage := map[string]*classify.Record{}
	for i := range records {
		byImage[records[i].Image] = &records[i]
	}
	res := &Results{}
	if meta == nil {
		res.Columns = append([]string{metadata.ImageColumn}, RecordColumns...)
		for i := range records {
			res.Rows = append(res.Rows, append([]string{records[i].Image}, recordValues(&records[i])...))
		}
		return res
	}
	res.Columns = append(append([]string{}, meta.Columns...), RecordColumns...)
	for i, row := range meta.Rows {
		out := append(append([]string{}, row...), recordValues(byImage[meta.Image(i)])...)
		res.Rows = append(res.Rows, out)
	}
	return res
}

func (r *Results) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(r.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func (r *Results) WriteCSVFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := r.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Build the spreadsheet. The caller must Close the result.
func (r *Results) workbook() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, err
	}
	header := make([]interface{}, len(r.Columns))
	for i, c := range r.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		f.SetRowStyle(SheetName, 1, 1, bold)
	}
	for i, row := range r.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("Failed to write row %v: %w", i, err)
		}
	}
	f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return f, nil
}

func (r *Results) WriteXLSX(w io.Writer) error {
	f, err := r.workbook()
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func (r *Results) WriteXLSXFile(filename string) error {
	f, err := r.workbook()
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(filename)
}
