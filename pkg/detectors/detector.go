// Package detectors implements the detector bank: independent detectors that
// each map one unit of input to at most one finding, and the Bank that runs
// an ordered set of them against a unit.
package detectors

import (
	"context"

	"github.com/exploopio/sentinel/pkg/core"
	"github.com/exploopio/sentinel/pkg/model"
)

// Detector IDs.
const (
	IDFraud              = "fraud"
	IDHarassment         = "harassment"
	IDBurnout            = "burnout"
	IDInformationLeakage = "information_leakage"
	IDDissatisfaction    = "dissatisfaction"
	IDAttendance         = "attendance"
	IDLeave              = "leave"
	IDPerformance        = "performance"
)

// Detector classifies one unit of input for one category.
//
// Detect returns nil when the unit shows no signal or the detector does not
// apply to the unit kind. An error also means "no finding"; the bank turns
// it into a warning. Detectors must not depend on each other's output.
type Detector interface {
	// ID returns the stable detector identifier used in enable lists.
	ID() string

	// Category returns the category of findings this detector produces.
	Category() model.Category

	// Detect runs the detector against unit.
	Detect(ctx context.Context, unit model.Unit) (*model.Finding, error)
}

// Options carries the collaborators shared by built-in detectors.
type Options struct {
	// NewID generates finding IDs (default: uuid)
	NewID core.IDGenerator

	// Clock stamps findings (default: UTC wall clock)
	Clock core.Clock
}

func (o Options) withDefaults() Options {
	if o.NewID == nil {
		o.NewID = core.NewID
	}
	if o.Clock == nil {
		o.Clock = core.SystemClock
	}
	return o
}
