package validation

import (
	"fmt"
	"strings"
)

// Report renders a validation result as plain text
func Report(r Result) string {
	var b strings.Builder
	b.WriteString("CLIMATE DATA VALIDATION REPORT\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	b.WriteString("SUMMARY:\n")
	fmt.Fprintf(&b, "- Total records: %d\n", r.Summary.TotalRecords)
	fmt.Fprintf(&b, "- Valid records: %d\n", r.Summary.ValidRecords)
	fmt.Fprintf(&b, "- Quality score: %.2f%%\n", r.QualityScore)
	fmt.Fprintf(&b, "- Completeness: %.2f%%\n\n", r.Summary.Completeness)

	if len(r.Errors) > 0 {
		b.WriteString("ERRORS:\n")
		for i, e := range r.Errors {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e)
		}
		b.WriteString("\n")
	}
	if len(r.Warnings) > 0 {
		b.WriteString("WARNINGS:\n")
		for i, w := range r.Warnings {
			fmt.Fprintf(&b, "%d. %s\n", i+1, w)
		}
		b.WriteString("\n")
	}

	if r.IsValid {
		b.WriteString("STATUS: VALID")
	} else {
		b.WriteString("STATUS: INVALID")
	}
	return b.String()
}
