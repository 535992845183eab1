// Package reproject implements the feature reprojection stage. It projects
// every geometry of a collection into a target coordinate system and leaves
// schema and attribute values untouched.
package reproject

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/feature"
	"github.com/mqsol/MeridianShift/transform"
)

// Common errors returned by this package.
var (
	ErrNoInput = errors.New("reproject: no input collection")
	ErrPolicy  = errors.New("reproject: unknown domain error policy")

	// ErrSeamCollapsed is recorded for a polygon that has no area left
	// once it is cut at the seam.
	ErrSeamCollapsed = errors.New("reproject: geometry vanished when cut at the seam")
)

// Policy decides what happens to a feature whose geometry cannot be projected.
type Policy int

const (
	NullGeometry Policy = iota // keep the feature with a null geometry and a flag
	Drop                       // remove the feature from the output
	Abort                      // fail the whole stage
)

var policyNames = map[Policy]string{
	NullGeometry: "null-geometry",
	Drop:         "drop",
	Abort:        "abort",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses a policy name. "strict" is accepted for Abort.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null-geometry", "null":
		return NullGeometry, nil
	case "drop":
		return Drop, nil
	case "abort", "strict":
		return Abort, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrPolicy, s)
}

// Failure records a feature whose geometry could not be projected.
type Failure struct {
	Index int
	ID    interface{}
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("reproject: feature %s: %v", f.Label(), f.Err)
}

// Unwrap returns the transform error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Label returns the feature ID, or "#index" when the feature has none.
func (f *Failure) Label() string {
	return (&feature.Feature{ID: f.ID}).Label(f.Index)
}

// Options configures a reprojection run.
type Options struct {
	Policy Policy

	// Workers bounds the number of features projected concurrently.
	// Zero means GOMAXPROCS.
	Workers int

	// SplitAtSeam cuts geographic polygons at the target's antimeridian
	// before projecting them.
	SplitAtSeam bool

	Logger zerolog.Logger
}

// Report summarises a reprojection run.
type Report struct {
	// Identity is set when source and target are the same system and the
	// stage copied the input.
	Identity bool

	// Failures lists the features that could not be projected, in input order.
	Failures []Failure

	Split   int
	Dropped int
}

// Failed returns the labels of the failed features.
func (r *Report) Failed() []string {
	out := make([]string, len(r.Failures))
	for i := range r.Failures {
		out[i] = r.Failures[i].Label()
	}
	return out
}

// Reproject returns a new collection with every geometry of c projected into
// target. Features keep their position, ID and values. Per-feature transform
// errors are handled according to opts.Policy and listed in the report; with
// Abort the first failing feature in input order is returned as a *Failure.
// A nil cache gets a fresh one.
func Reproject(ctx context.Context, c *feature.Collection, target *crs.Descriptor, cache *transform.Cache, opts Options) (*feature.Collection, *Report, error) {
	if c == nil {
		return nil, nil, ErrNoInput
	}
	if cache == nil {
		cache = transform.NewCache()
	}
	t, err := cache.Get(c.CRS, target)
	if err != nil {
		return nil, nil, err
	}

	out := c.Derive(target)
	report := &Report{Identity: t.IsIdentity()}
	if t.IsIdentity() {
		for _, f := range c.Features {
			out.Features = append(out.Features, f.Clone())
		}
		opts.Logger.Debug().
			Str("crs", target.String()).
			Int("features", len(out.Features)).
			Msg("Source already in target system, geometries copied")
		return out, report, nil
	}

	split := opts.SplitAtSeam && c.CRS.IsGeographic() && !target.IsGeographic()
	lon0 := target.CentralMeridian()

	results := make([]*feature.Feature, len(c.Features))
	var mu sync.Mutex

	// firstFail is the lowest failing index seen so far under Abort. Features
	// after it are skipped, features before it still run so that the
	// reported failure is the first one in input order.
	var firstFail atomic.Int64
	firstFail.Store(math.MaxInt64)

	var g errgroup.Group
	g.SetLimit(workers(opts.Workers))
	for i, f := range c.Features {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if opts.Policy == Abort && int64(i) > firstFail.Load() {
				return nil
			}

			geom, flags := f.Geometry, f.Flags
			var err error
			if split && geom != nil {
				if s, ok := splitAtSeam(geom, lon0); ok {
					geom, flags = s, flags|feature.FlagSplit
					if s == nil {
						err = ErrSeamCollapsed
					}
				}
			}

			var projected orb.Geometry
			if err == nil {
				projected, err = t.ApplyGeometry(geom)
			}
			if err != nil {
				fail := Failure{Index: i, ID: f.ID, Err: err}
				mu.Lock()
				report.Failures = append(report.Failures, fail)
				mu.Unlock()

				opts.Logger.Warn().
					Err(err).
					Str("stage", "reproject").
					Str("feature", fail.Label()).
					Str("policy", opts.Policy.String()).
					Msg("Geometry could not be projected")

				switch opts.Policy {
				case Abort:
					for {
						cur := firstFail.Load()
						if int64(i) >= cur || firstFail.CompareAndSwap(cur, int64(i)) {
							break
						}
					}
					return &fail
				case Drop:
					return nil
				}
				nf := f.WithGeometry(nil)
				nf.Flags = flags | feature.FlagTransformFailed
				results[i] = nf
				return nil
			}

			nf := f.WithGeometry(projected)
			nf.Flags = flags
			results[i] = nf
			return nil
		})
	}

	err = g.Wait()
	sort.Slice(report.Failures, func(a, b int) bool {
		return report.Failures[a].Index < report.Failures[b].Index
	})
	if err != nil {
		var fail *Failure
		if errors.As(err, &fail) {
			first := report.Failures[0]
			return nil, report, &first
		}
		return nil, report, err
	}

	for i, f := range results {
		if f == nil {
			report.Dropped++
			continue
		}
		if f.Flags.Has(feature.FlagSplit) && !c.Features[i].Flags.Has(feature.FlagSplit) {
			report.Split++
		}
		out.Features = append(out.Features, f)
	}

	opts.Logger.Debug().
		Str("stage", "reproject").
		Str("transform", t.String()).
		Int("features", len(out.Features)).
		Int("failed", len(report.Failures)).
		Int("split", report.Split).
		Msg("Reprojection finished")
	return out, report, nil
}

func workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
