package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"climate-analytics/internal/models"
)

var stationCodePattern = regexp.MustCompile(`^[A-Z0-9]{3,10}$`)

// ValidateStation checks a single station record independently of any
// dataset: code pattern, name length, coordinate bounds and elevation.
func (v *Validator) ValidateStation(s models.Station) Result {
	res := &Result{Errors: []string{}, Warnings: []string{}}

	if !stationCodePattern.MatchString(strings.TrimSpace(s.Code)) {
		res.errorf("invalid station code %q", s.Code)
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(s.Name)); n < 3 || n > 100 {
		res.errorf("invalid station name: must be 3 to 100 characters")
	}

	if s.Latitude < -90 || s.Latitude > 90 {
		res.errorf("latitude %g outside the valid range [-90, 90]", s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		res.errorf("longitude %g outside the valid range [-180, 180]", s.Longitude)
	}

	if s.Elevation != nil && (*s.Elevation < -1000 || *s.Elevation > 10000) {
		res.warnf("elevation %g m outside the typical range for Colombia", *s.Elevation)
	}

	res.Summary.TotalRecords = 1
	out := res.finish()
	if out.IsValid {
		out.Summary.ValidRecords = 1
		out.QualityScore = 100
	}
	return out
}
