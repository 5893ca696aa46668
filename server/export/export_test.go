package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cyclopcam/railalert/server/classify"
	"github.com/cyclopcam/railalert/server/metadata"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testRecords() []classify.Record {
	return []classify.Record{
		classify.Aggregate("a_e_0.jpg", "a_e", classify.Memo{Train: 1}, ""),
		classify.Aggregate("c_w_0.jpg", "c_w", classify.Memo{}, "person:2, car:1"),
	}
}

func TestJoinWithMetadata(t *testing.T) {
	meta, err := metadata.ReadCSV(strings.NewReader("Image,Timestamp\na_e_0.jpg,t1\nb_e_0.jpg,t2\nc_w_0.jpg,t3\n"))
	require.NoError(t, err)
	res := Join(meta, testRecords())
	require.Equal(t, append([]string{"Image", "Timestamp"}, RecordColumns...), res.Columns)
	require.Len(t, res.Rows, 3)
	require.Equal(t, []string{"a_e_0.jpg", "t1", "a_e", "false", "false", "true", "false", "true", "true", "", ""}, res.Rows[0])
	// b was never classified
	require.Equal(t, []string{"b_e_0.jpg", "t2", "", "", "", "", "", "", "", "", ""}, res.Rows[1])
	require.Equal(t, "person:2, car:1", res.Rows[2][9])

	var buf bytes.Buffer
	require.NoError(t, res.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, `c_w_0.jpg,t3,c_w,false,false,false,false,true,false,"person:2, car:1",`, lines[3])
}

func TestJoinWithoutMetadata(t *testing.T) {
	res := Join(nil, testRecords())
	require.Equal(t, "Image", res.Columns[0])
	require.Len(t, res.Rows, 2)
	require.Equal(t, "c_w_0.jpg", res.Rows[1][0])
}

func TestXLSX(t *testing.T) {
	res := Join(nil, testRecords())
	var buf bytes.Buffer
	require.NoError(t, res.WriteXLSX(&buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, res.Columns, rows[0])
	require.Equal(t, "a_e_0.jpg", rows[1][0])
	require.Equal(t, "person:2, car:1", rows[2][8])
}
