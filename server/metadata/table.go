package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// Name of the column that joins metadata to classification records
const ImageColumn = "Image"

// The columns that Ingest writes
var Columns = []string{ImageColumn, "Location", "Direction", "Timestamp", "OriginalMsgFilename"}

var ErrNoImageColumn = errors.New("Metadata has no 'Image' column")

// Table is a metadata CSV file. Columns other than Image are carried along untouched.
type Table struct {
	Columns  []string
	Rows     [][]string
	imageCol int
}

func NewTable(columns []string) (*Table, error) {
	t := &Table{
		Columns:  columns,
		imageCol: -1,
	}
	for i, c := range columns {
		if c == ImageColumn {
			t.imageCol = i
		}
	}
	if t.imageCol == -1 {
		return nil, ErrNoImageColumn
	}
	return t, nil
}

// Image returns the Image value of row i
func (t *Table) Image(i int) string {
	return t.Rows[i][t.imageCol]
}

// Images returns the Image column
func (t *Table) Images() []string {
	images := make([]string, len(t.Rows))
	for i := range t.Rows {
		images[i] = t.Image(i)
	}
	return images
}

// Add a row. Short rows are padded, so that every row has one value per column.
func (t *Table) Add(values ...string) {
	row := make([]string, len(t.Columns))
	copy(row, values)
	t.Rows = append(t.Rows, row)
}

func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("Failed to read metadata header: %w", err)
	}
	t, err := NewTable(header)
	if err != nil {
		return nil, err
	}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Failed to read metadata: %w", err)
		}
		t.Add(row...)
	}
	return t, nil
}

func ReadCSVFile(filename string) (*Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func (t *Table) WriteCSVFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
