package dataset

import (
	"climate-analytics/internal/models"
)

// Schema describes what a table can offer to the pipeline. It is computed
// once per table so stages branch on capabilities instead of probing columns.
type Schema struct {
	HasDate bool `json:"has_date"`
	// DateParsed is set when the date column is stored as times or every
	// present cell converts to one.
	DateParsed bool `json:"date_parsed"`
	HasStation bool `json:"has_station"`
	// Variables are the known climate variables stored as floats
	Variables []string `json:"variables"`
	// Coercible are the known climate variables in any non-time column;
	// type coercion turns them into floats.
	Coercible      []string `json:"coercible"`
	ClimateColumns []string `json:"climate_columns"`
	Numeric        []string `json:"numeric"`
	TempTriple     bool     `json:"temperature_triple"`
	HasCoordinates bool     `json:"has_coordinates"`
}

// Describe inspects the table's columns
func Describe(t *Table) Schema {
	var s Schema
	if c, ok := t.Column(models.ColDate); ok {
		s.HasDate = true
		s.DateParsed = timeConvertible(c)
	}
	s.HasStation = t.Has(models.ColStation)

	for _, v := range models.Variables() {
		c, ok := t.Column(v.Name)
		if !ok || c.Kind() == KindTime {
			continue
		}
		s.Coercible = append(s.Coercible, v.Name)
		if c.Kind() == KindFloat {
			s.Variables = append(s.Variables, v.Name)
		}
	}
	for _, name := range t.Names() {
		if models.IsClimateColumn(name) {
			s.ClimateColumns = append(s.ClimateColumns, name)
		}
	}
	s.Numeric = t.NumericNames()

	s.TempTriple = s.CanCoerce(models.ColTempMin) &&
		s.CanCoerce(models.ColTempAvg) &&
		s.CanCoerce(models.ColTempMax)

	_, latOK := t.FloatColumn(models.ColLatitude)
	_, lonOK := t.FloatColumn(models.ColLongitude)
	s.HasCoordinates = latOK && lonOK
	return s
}

func timeConvertible(c *Column) bool {
	switch c.Kind() {
	case KindTime:
		return true
	case KindText:
		_, failed := c.AsTime()
		return failed == 0
	default:
		return c.MissingCount() == c.Len()
	}
}

// HasVariable reports whether a known climate variable is present as floats
func (s Schema) HasVariable(name string) bool {
	return contains(s.Variables, name)
}

// CanCoerce reports whether a known climate variable is present in a column
// that coerces to floats
func (s Schema) CanCoerce(name string) bool {
	return contains(s.Coercible, name)
}

// NumericAfterCoercion lists the float columns the table has once its known
// variables are coerced: the numeric columns followed by the coercible
// variables not yet stored as floats.
func (s Schema) NumericAfterCoercion() []string {
	out := append([]string(nil), s.Numeric...)
	for _, name := range s.Coercible {
		if !contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
