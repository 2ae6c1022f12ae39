package dataset

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `fecha,estacion,temperatura_maxima,temperatura_minima,precipitacion,observacion
2023-01-03,21205580,20.5,8.1,0,ok
2023-01-01,21205580,21.0,,3.2,ok
2023-01-02,21205580,19.8,7.9,n/a,lluvia
`

func TestReadCSV_InfersKinds(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(sampleCSV), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"fecha", "estacion", "temperatura_maxima", "temperatura_minima", "precipitacion", "observacion"}, tbl.Names())

	kinds := map[string]Kind{
		"fecha":              KindTime,
		"estacion":           KindText,
		"temperatura_maxima": KindFloat,
		"temperatura_minima": KindFloat,
		"precipitacion":      KindText, // "n/a" keeps it text until cleaning coerces it
		"observacion":        KindText,
	}
	for name, want := range kinds {
		c, ok := tbl.Column(name)
		require.True(t, ok, name)
		assert.Equal(t, want, c.Kind(), name)
	}

	tmin, _ := tbl.Column("temperatura_minima")
	assert.True(t, tmin.IsMissing(1))
	assert.Equal(t, 1, tmin.MissingCount())
}

func TestColumn_AsFloatCoercesBadCells(t *testing.T) {
	c := NewTextColumn("precipitacion", []string{"0", "3,2", "n/a", ""})
	out, failed := c.AsFloat()

	assert.Equal(t, KindFloat, out.Kind())
	assert.Equal(t, 1, failed)
	v, ok := out.Float(1)
	require.True(t, ok)
	assert.InDelta(t, 3.2, v, 1e-12)
	assert.True(t, out.IsMissing(2))
	assert.True(t, out.IsMissing(3))
}

func TestTable_SortedByTimeIsStableWithMissingLast(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2023, 1, day, 0, 0, 0, 0, time.UTC) }
	tbl := MustNew(
		NewTimeColumn("fecha", []time.Time{d(3), {}, d(1), d(3)}),
		NewFloatColumn("x", []float64{1, 2, 3, 4}),
	)

	sorted, order, err := tbl.SortedByTime("fecha")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 3, 1}, order)

	x, _ := sorted.FloatColumn("x")
	assert.Equal(t, []float64{3, 1, 4, 2}, x.Floats())

	orig, _ := tbl.FloatColumn("x")
	assert.Equal(t, []float64{1, 2, 3, 4}, orig.Floats(), "source table must not change")
}

func TestTable_CloneIsDeep(t *testing.T) {
	tbl := MustNew(NewFloatColumn("x", []float64{1, 2}))
	cp := tbl.Clone()
	c, _ := cp.FloatColumn("x")
	c.SetFloat(0, 99)

	orig, _ := tbl.FloatColumn("x")
	v, _ := orig.Float(0)
	assert.Equal(t, 1.0, v)
}

func TestTable_Paired(t *testing.T) {
	tbl := MustNew(
		NewFloatColumn("a", []float64{1, math.NaN(), 3, 4}),
		NewFloatColumn("b", []float64{10, 20, math.NaN(), 40}),
	)
	x, y, rows := tbl.Paired("a", "b")
	assert.Equal(t, []float64{1, 4}, x)
	assert.Equal(t, []float64{10, 40}, y)
	assert.Equal(t, []int{0, 3}, rows)
}

func TestTable_GroupByFirstSeenOrder(t *testing.T) {
	tbl := MustNew(NewTextColumn("estacion", []string{"B", "A", "B", "", "C"}))
	keys, groups, err := tbl.GroupBy("estacion")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "C"}, keys)
	assert.Equal(t, []int{0, 2}, groups["B"])
}

func TestTable_AddRejectsMismatchedLength(t *testing.T) {
	_, err := New(NewFloatColumn("a", []float64{1, 2}), NewFloatColumn("b", []float64{1}))
	assert.Error(t, err)

	_, err = New(NewFloatColumn("a", []float64{1}), NewFloatColumn("a", []float64{1}))
	assert.Error(t, err)
}

func TestSaveCSV_RoundTrip(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(sampleCSV), DefaultOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "clean.csv")
	require.NoError(t, tbl.SaveCSV(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "fecha,estacion,temperatura_maxima,temperatura_minima,precipitacion,observacion", lines[0])
	assert.Equal(t, "2023-01-01T00:00:00Z,21205580,21,,3.2,ok", lines[2])

	back, err := ReadCSVFile(path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, tbl.Len(), back.Len())
}

func TestParseFloat_RejectsNonFinite(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"12.5", 12.5, true},
		{"12,5", 12.5, true},
		{"-3", -3, true},
		{"Inf", 0, false},
		{"-Infinity", 0, false},
		{"+inf", 0, false},
		{"NaN", 0, false},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, ok := ParseFloat(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestReadCSV_InfiniteCellsAreMissing(t *testing.T) {
	in := "estacion,latitud,longitud,otra\nA,4.6,-74.1,1\nB,Inf,-Infinity,NaN\nC,4.7,-74.2,3\n"
	tbl, err := ReadCSV(strings.NewReader(in), DefaultOptions())
	require.NoError(t, err)

	for _, name := range []string{"latitud", "longitud", "otra"} {
		c, ok := tbl.Column(name)
		require.True(t, ok, name)
		assert.Equal(t, KindFloat, c.Kind(), name)
		_, valid := c.Float(1)
		assert.False(t, valid, name)
		assert.Equal(t, 1, c.MissingCount(), name)
	}

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	assert.Contains(t, buf.String(), "B,,,\n")

	c := NewFloatColumn("x", []float64{math.Inf(1), 2})
	c.SetFloat(1, math.Inf(-1))
	assert.Equal(t, 2, c.MissingCount())
}

func TestDescribe(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(sampleCSV), DefaultOptions())
	require.NoError(t, err)

	s := Describe(tbl)
	assert.True(t, s.HasDate)
	assert.True(t, s.DateParsed)
	assert.True(t, s.HasStation)
	assert.Equal(t, []string{"temperatura_maxima", "temperatura_minima"}, s.Variables)
	assert.Contains(t, s.ClimateColumns, "precipitacion")
	assert.False(t, s.TempTriple)
	assert.False(t, s.HasCoordinates)

	assert.Equal(t, []string{"temperatura_maxima", "temperatura_minima", "precipitacion"}, s.Coercible)
	assert.True(t, s.CanCoerce("precipitacion"))
	assert.False(t, s.HasVariable("precipitacion"))
	assert.Equal(t, []string{"temperatura_maxima", "temperatura_minima", "precipitacion"}, s.NumericAfterCoercion())
}

func TestWriteCSV_MissingAsEmpty(t *testing.T) {
	tbl := MustNew(
		NewFloatColumn("x", []float64{math.NaN(), 1.5}),
		NewTextColumn("estacion", []string{"A", ""}),
	)
	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	assert.Equal(t, "x,estacion\n,A\n1.5,\n", buf.String())
}
