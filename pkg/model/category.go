package model

import (
	"fmt"
	"strings"

	serrors "github.com/exploopio/sentinel/pkg/errors"
)

// Category is the closed set of risk categories a finding can carry.
type Category string

const (
	// Communication categories
	CategoryFraud              Category = "FRAUD"
	CategoryHarassment         Category = "HARASSMENT"
	CategoryBurnout            Category = "BURNOUT"
	CategoryInformationLeakage Category = "INFORMATION_LEAKAGE"
	CategoryDissatisfaction    Category = "DISSATISFACTION"

	// Metric-monitoring categories
	CategoryIrregularAttendance Category = "IRREGULAR_ATTENDANCE"
	CategoryExcessiveLeave      Category = "EXCESSIVE_LEAVE"
	CategoryPerformanceDecline  Category = "PERFORMANCE_DECLINE"
	CategoryMetricAnomaly       Category = "METRIC_ANOMALY"
)

// AllCategories returns every category in declaration order.
func AllCategories() []Category {
	return []Category{
		CategoryFraud,
		CategoryHarassment,
		CategoryBurnout,
		CategoryInformationLeakage,
		CategoryDissatisfaction,
		CategoryIrregularAttendance,
		CategoryExcessiveLeave,
		CategoryPerformanceDecline,
		CategoryMetricAnomaly,
	}
}

// String returns the category name.
func (c Category) String() string {
	return string(c)
}

// IsValid reports whether c is one of AllCategories.
func (c Category) IsValid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory parses a category name, accepting the short alias
// INFO_LEAKAGE and any letter case.
func ParseCategory(s string) (Category, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "INFO_LEAKAGE" {
		name = string(CategoryInformationLeakage)
	}
	c := Category(name)
	if !c.IsValid() {
		return "", serrors.E(serrors.KindUnknownCategory, "model.ParseCategory", fmt.Sprintf("unknown category %q", s))
	}
	return c, nil
}
