// Package meridianshift reprojects polygon feature collections into a
// central-meridian projection (Winkel Tripel centred on 135 degrees east by
// default), repairs the geometries the projection breaks and writes the
// result to a vector file.
//
// A run goes through a fixed sequence of stages:
//
//	Idle -> ResolvingCRS -> ReprojectingToWGS84 -> ReprojectingToTarget
//	     -> RepairingGeometry -> Writing -> Done
//
// The WGS84 leg is skipped when the source already is geographic WGS84.
// Any stage may end the run in Failed. Per-feature problems never stop a run;
// they are collected in the Result.
package meridianshift

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/feature"
	"github.com/mqsol/MeridianShift/geometry"
	"github.com/mqsol/MeridianShift/repair"
	"github.com/mqsol/MeridianShift/reproject"
	"github.com/mqsol/MeridianShift/vector"
)

// Common errors returned by this package.
var (
	ErrEmptyInput = errors.New("meridianshift: empty input")
	ErrNoOutput   = errors.New("meridianshift: no output path")
)

// State is a stage of a pipeline run.
type State int

const (
	Idle State = iota
	ResolvingCRS
	ReprojectingToWGS84
	ReprojectingToTarget
	RepairingGeometry
	Writing
	Done
	Failed
)

var stateNames = [...]string{
	Idle:                 "idle",
	ResolvingCRS:         "resolving-crs",
	ReprojectingToWGS84:  "reprojecting-to-wgs84",
	ReprojectingToTarget: "reprojecting-to-target",
	RepairingGeometry:    "repairing-geometry",
	Writing:              "writing",
	Done:                 "done",
	Failed:               "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StageError is a failure that ended a run. FeatureID is set when a single
// feature caused it.
type StageError struct {
	Stage     State
	FeatureID interface{}
	Err       error
}

func (e *StageError) Error() string {
	if e.FeatureID != nil {
		return fmt.Sprintf("meridianshift: %s: feature %v: %v", e.Stage, e.FeatureID, e.Err)
	}
	return fmt.Sprintf("meridianshift: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Env is the context a pipeline runs in. It replaces any process-wide state:
// the registry and the temp directory policy belong to the caller.
type Env struct {
	// Registry resolves CRS identifiers. Nil means crs.NewRegistry().
	Registry *crs.Registry

	// TempDir holds the staging directory of the writer. Empty means the
	// directory of the output file.
	TempDir string

	// Workers bounds per-feature concurrency. Zero means GOMAXPROCS.
	Workers int

	// Engine validates and repairs geometries. Nil means geometry.Planar.
	Engine geometry.Engine

	Logger zerolog.Logger
}

// NewEnv returns an Env with a fresh registry and a silent logger.
func NewEnv() Env {
	return Env{
		Registry: crs.NewRegistry(),
		Workers:  runtime.GOMAXPROCS(0),
		Engine:   geometry.Planar{},
		Logger:   zerolog.Nop(),
	}
}

// Request describes one run.
type Request struct {
	// Collection is the input. Its CRS is the source system unless
	// SourceCRS is set.
	Collection *feature.Collection

	// SourceCRS overrides the CRS of the collection: an authority code, a
	// proj string or WKT.
	SourceCRS string

	// Target is the output system. The zero value means crs.DefaultTarget().
	Target crs.Target

	Output string
	Format vector.Format
	Layer  string

	// Policy decides what happens to features that cannot be projected.
	Policy reproject.Policy

	// SplitAtSeam cuts polygons at the antimeridian of the target.
	SplitAtSeam bool

	// NoIndex disables the spatial index of FlatGeobuf output.
	NoIndex bool
}

// Transition is a state change observed during a run.
type Transition struct {
	From State
	To   State
}

// Warning is a per-feature problem that did not stop the run.
type Warning struct {
	Stage     State
	Index     int
	FeatureID interface{}
	Err       error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: feature %s: %v", w.Stage, (&feature.Feature{ID: w.FeatureID}).Label(w.Index), w.Err)
}

// Counts summarises what happened to the features of a run.
type Counts struct {
	Input           int
	Reprojected     int
	TransformFailed int
	Dropped         int
	Split           int
	Valid           int
	Repaired        int
	Unrepairable    int
	Empty           int
	Written         int
}

// Result reports the outcome of a run. It is returned for failed runs too.
type Result struct {
	Path  string
	State State

	// FailedStage is the stage that was running when the run failed.
	FailedStage State

	Transitions []Transition

	// SkippedWGS84 is set when the source already was geographic WGS84.
	SkippedWGS84 bool

	Source *crs.Descriptor
	Target *crs.Descriptor

	Counts   Counts
	Warnings []Warning

	ToWGS84  *reproject.Report
	ToTarget *reproject.Report
	Repair   *repair.Report
}
