package domain

import "strings"

// QualityGrade is the ordinal produce quality label chosen by the farmer.
type QualityGrade string

const (
	GradeA QualityGrade = "A" // premium
	GradeB QualityGrade = "B" // reference grade
	GradeC QualityGrade = "C" // economy
)

// Normalize upper-cases and trims the grade so "a " and "A" are equal.
func (g QualityGrade) Normalize() QualityGrade {
	return QualityGrade(strings.ToUpper(strings.TrimSpace(string(g))))
}
