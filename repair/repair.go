// Package repair implements the geometry validity repair stage.
package repair

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/paulmach/orb/encoding/wkt"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mqsol/MeridianShift/feature"
	"github.com/mqsol/MeridianShift/geometry"
)

// ErrUnrepairable is reported for features whose geometry could not be made
// valid. It is never returned by Repair itself.
var ErrUnrepairable = errors.New("repair: geometry cannot be repaired")

// ErrNoInput is returned when Repair is called without a collection.
var ErrNoInput = errors.New("repair: no input collection")

// Status is the outcome of the repair stage for one feature.
type Status int

const (
	Valid        Status = iota // geometry was already valid
	Repaired                   // geometry was rewritten
	Unrepairable               // geometry was replaced by null
	Empty                      // feature arrived without geometry
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Repaired:
		return "repaired"
	case Unrepairable:
		return "unrepairable"
	case Empty:
		return "empty"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Outcome describes what happened to one feature.
type Outcome struct {
	Index  int
	ID     interface{}
	Status Status

	// Reason is the validity problem found in the input, if any.
	Reason string

	AreaBefore float64
	AreaAfter  float64

	// Err wraps ErrUnrepairable for unrepairable features.
	Err error
}

// Report lists an outcome per input feature, in input order.
type Report struct {
	Outcomes []Outcome

	Valid        int
	Repaired     int
	Unrepairable int
	Empty        int
}

// Failures returns the outcomes of features that lost their geometry.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == Unrepairable {
			out = append(out, o)
		}
	}
	return out
}

// Options configures a repair run.
type Options struct {
	// Engine validates and repairs geometries; nil means geometry.Planar.
	Engine geometry.Engine

	// Workers bounds the number of features repaired concurrently.
	// Zero means GOMAXPROCS.
	Workers int

	Logger zerolog.Logger
}

// Repair returns a new collection in which every geometry is valid. Invalid
// geometries are rewritten by the engine; those it cannot fix are replaced by
// null and flagged. The output always has as many features as the input.
func Repair(ctx context.Context, c *feature.Collection, opts Options) (*feature.Collection, *Report, error) {
	if c == nil {
		return nil, nil, ErrNoInput
	}
	engine := opts.Engine
	if engine == nil {
		engine = geometry.Planar{}
	}

	results := make([]*feature.Feature, len(c.Features))
	outcomes := make([]Outcome, len(c.Features))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(opts.Workers))
	for i, f := range c.Features {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], outcomes[i] = repairOne(engine, i, f, opts.Logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := c.Derive(c.CRS)
	out.Features = results
	report := &Report{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case Valid:
			report.Valid++
		case Repaired:
			report.Repaired++
		case Unrepairable:
			report.Unrepairable++
		case Empty:
			report.Empty++
		}
	}

	opts.Logger.Debug().
		Str("stage", "repair").
		Int("features", len(results)).
		Int("valid", report.Valid).
		Int("repaired", report.Repaired).
		Int("unrepairable", report.Unrepairable).
		Msg("Repair finished")
	return out, report, nil
}

func repairOne(engine geometry.Engine, i int, f *feature.Feature, log zerolog.Logger) (*feature.Feature, Outcome) {
	o := Outcome{Index: i, ID: f.ID}
	if f.Geometry == nil {
		o.Status = Empty
		return f.Clone(), o
	}

	o.AreaBefore = geometry.Area(f.Geometry)
	err := engine.Validate(f.Geometry)
	if err == nil {
		o.Status = Valid
		o.AreaAfter = o.AreaBefore
		return f.Clone(), o
	}

	var ve *geometry.ValidityError
	if errors.As(err, &ve) {
		o.Reason = ve.Reason
	} else {
		o.Reason = err.Error()
	}

	fixed, rerr := engine.Repair(f.Geometry)
	if rerr == nil {
		rerr = engine.Validate(fixed)
	}
	if rerr != nil {
		o.Status = Unrepairable
		o.Err = fmt.Errorf("%w: %v", ErrUnrepairable, rerr)
		nf := f.WithGeometry(nil)
		nf.Flags |= feature.FlagUnrepairable
		log.Warn().
			Err(rerr).
			Str("stage", "repair").
			Str("feature", f.Label(i)).
			Str("reason", o.Reason).
			Msg("Geometry could not be repaired, keeping the feature with a null geometry")
		return nf, o
	}

	o.Status = Repaired
	o.AreaAfter = geometry.Area(fixed)
	nf := f.WithGeometry(fixed)
	nf.Flags |= feature.FlagRepaired
	if e := log.Debug(); e.Enabled() {
		e.Str("stage", "repair").
			Str("feature", f.Label(i)).
			Str("reason", o.Reason).
			Float64("area_before", o.AreaBefore).
			Float64("area_after", o.AreaAfter).
			Str("wkt", wkt.MarshalString(f.Geometry)).
			Msg("Geometry repaired")
	}
	return nf, o
}

func workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
