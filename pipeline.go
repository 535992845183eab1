package meridianshift

import (
	"context"
	"errors"
	"time"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/feature"
	"github.com/mqsol/MeridianShift/geometry"
	"github.com/mqsol/MeridianShift/repair"
	"github.com/mqsol/MeridianShift/reproject"
	"github.com/mqsol/MeridianShift/transform"
	"github.com/mqsol/MeridianShift/vector"
)

// Pipeline runs requests in an Env. A Pipeline may run several requests,
// one after the other or concurrently; each run gets its own transform cache.
type Pipeline struct {
	env          Env
	onTransition func(Transition)
}

// New returns a pipeline for env. Unset fields of env get their defaults.
func New(env Env) *Pipeline {
	if env.Registry == nil {
		env.Registry = crs.NewRegistry()
	}
	if env.Engine == nil {
		env.Engine = geometry.Planar{}
	}
	return &Pipeline{env: env}
}

// OnTransition registers fn to be called on every state change. It must be
// set before Run is called.
func (p *Pipeline) OnTransition(fn func(Transition)) {
	p.onTransition = fn
}

// run holds the state of one Run call.
type run struct {
	p     *Pipeline
	res   *Result
	start time.Time
}

func (r *run) enter(s State) {
	t := Transition{From: r.res.State, To: s}
	r.res.State = s
	r.res.Transitions = append(r.res.Transitions, t)
	r.p.env.Logger.Debug().
		Str("from", t.From.String()).
		Str("stage", t.To.String()).
		Msg("Stage changed")
	if r.p.onTransition != nil {
		r.p.onTransition(t)
	}
}

// fail moves the run to Failed. Errors that are not yet a *StageError are
// wrapped in one for the current stage.
func (r *run) fail(err error) (*Result, error) {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: r.res.State, Err: err}
	}
	r.res.FailedStage = se.Stage
	r.enter(Failed)

	r.p.env.Logger.Error().
		Err(se.Err).
		Str("stage", se.Stage.String()).
		Interface("feature", se.FeatureID).
		Dur("duration", time.Since(r.start)).
		Msg("Pipeline failed")
	return r.res, se
}

// Run executes req. The returned Result is never nil; on failure its State is
// Failed and the error is a *StageError naming the stage. Nothing is written
// unless the run reaches Done.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{p: p, res: &Result{State: Idle}, start: time.Now()}
	res := r.res
	log := p.env.Logger

	c := req.Collection
	if c == nil || c.Len() == 0 {
		return r.fail(ErrEmptyInput)
	}
	if req.Output == "" {
		return r.fail(ErrNoOutput)
	}
	res.Counts.Input = c.Len()

	r.enter(ResolvingCRS)
	source, target, err := p.resolve(c, req)
	if err != nil {
		return r.fail(err)
	}
	wgs84, err := p.env.Registry.Resolve(crs.WGS84)
	if err != nil {
		return r.fail(err)
	}
	res.Source, res.Target = source, target
	if !source.Equal(c.CRS) {
		tagged := c.Derive(source)
		tagged.Features = c.Features
		c = tagged
	}
	log.Debug().
		Str("source", source.String()).
		Str("target", target.String()).
		Int("features", c.Len()).
		Msg("Coordinate systems resolved")

	cache := transform.NewCache()
	opts := reproject.Options{
		Policy:  req.Policy,
		Workers: p.env.Workers,
		Logger:  log,
	}

	if source.Equal(wgs84) {
		res.SkippedWGS84 = true
	} else {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}
		r.enter(ReprojectingToWGS84)
		c, res.ToWGS84, err = reproject.Reproject(ctx, c, wgs84, cache, opts)
		if err != nil {
			return r.fail(stageError(ReprojectingToWGS84, err))
		}
		res.addReprojectWarnings(ReprojectingToWGS84, res.ToWGS84)
	}

	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	r.enter(ReprojectingToTarget)
	opts.SplitAtSeam = req.SplitAtSeam
	c, res.ToTarget, err = reproject.Reproject(ctx, c, target, cache, opts)
	if err != nil {
		return r.fail(stageError(ReprojectingToTarget, err))
	}
	res.addReprojectWarnings(ReprojectingToTarget, res.ToTarget)
	res.Counts.Split = res.ToTarget.Split
	for _, f := range c.Features {
		if !f.Flags.Has(feature.FlagTransformFailed) {
			res.Counts.Reprojected++
		}
	}

	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	r.enter(RepairingGeometry)
	c, res.Repair, err = repair.Repair(ctx, c, repair.Options{
		Engine:  p.env.Engine,
		Workers: p.env.Workers,
		Logger:  log,
	})
	if err != nil {
		return r.fail(err)
	}
	res.Counts.Valid = res.Repair.Valid
	res.Counts.Repaired = res.Repair.Repaired
	res.Counts.Unrepairable = res.Repair.Unrepairable
	res.Counts.Empty = res.Repair.Empty
	for _, o := range res.Repair.Failures() {
		res.Warnings = append(res.Warnings, Warning{
			Stage:     RepairingGeometry,
			Index:     o.Index,
			FeatureID: o.ID,
			Err:       o.Err,
		})
	}

	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	r.enter(Writing)
	err = vector.Write(ctx, c, req.Output, req.Format, vector.WriteOptions{
		TempDir: p.env.TempDir,
		Layer:   req.Layer,
		NoIndex: req.NoIndex,
		Logger:  log,
	})
	if err != nil {
		return r.fail(err)
	}
	res.Path = req.Output
	res.Counts.Written = c.Len()
	r.enter(Done)

	log.Info().
		Str("path", res.Path).
		Int("features", res.Counts.Written).
		Int("repaired", res.Counts.Repaired).
		Int("unrepairable", res.Counts.Unrepairable).
		Int("transform_failed", res.Counts.TransformFailed).
		Dur("duration", time.Since(r.start)).
		Msg("Pipeline finished")
	return res, nil
}

// resolve returns the source and target systems of req.
func (p *Pipeline) resolve(c *feature.Collection, req Request) (*crs.Descriptor, *crs.Descriptor, error) {
	source := c.CRS
	if req.SourceCRS != "" {
		d, err := p.env.Registry.Resolve(req.SourceCRS)
		if err != nil {
			return nil, nil, err
		}
		source = d
	}
	if source == nil {
		return nil, nil, &crs.UnknownCRSError{Reason: "input has no coordinate reference system"}
	}

	t := req.Target
	if t == (crs.Target{}) {
		t = crs.DefaultTarget()
	}
	target, err := p.env.Registry.ResolveTarget(t)
	if err != nil {
		return nil, nil, err
	}
	return source, target, nil
}

// stageError attaches the failing feature of an aborted reprojection.
func stageError(stage State, err error) error {
	var fail *reproject.Failure
	if errors.As(err, &fail) {
		return &StageError{Stage: stage, FeatureID: fail.Label(), Err: err}
	}
	return &StageError{Stage: stage, Err: err}
}

func (res *Result) addReprojectWarnings(stage State, report *reproject.Report) {
	for _, f := range report.Failures {
		res.Warnings = append(res.Warnings, Warning{
			Stage:     stage,
			Index:     f.Index,
			FeatureID: f.ID,
			Err:       f.Err,
		})
	}
	res.Counts.TransformFailed += len(report.Failures)
	res.Counts.Dropped += report.Dropped
}
