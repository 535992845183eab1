// Command meridianshift reprojects a polygon layer into a central-meridian
// projection, repairs the geometries and writes the result.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	meridianshift "github.com/mqsol/MeridianShift"
	"github.com/mqsol/MeridianShift/config"
	"github.com/mqsol/MeridianShift/feature"
	"github.com/mqsol/MeridianShift/geometry"
	"github.com/mqsol/MeridianShift/internal/logger"
	"github.com/mqsol/MeridianShift/vector"
)

// Options are the command line options. Unset options fall back to the
// configuration file, then to the built-in defaults.
type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config" env:"MERIDIANSHIFT_CONFIG" description:"Path to configuration file (default meridianshift.yaml when present)"`
	Input      string `short:"i" long:"input"  env:"MERIDIANSHIFT_INPUT"  description:"Input layer (.shp, .geojson, .json or .fgb)" required:"true"`
	Output     string `short:"o" long:"output" env:"MERIDIANSHIFT_OUTPUT" description:"Output file; the extension picks the format" required:"true"`
	Format     string `short:"f" long:"format" env:"MERIDIANSHIFT_FORMAT" description:"Output format" choice:"shapefile" choice:"geojson" choice:"flatgeobuf"`
	Layer      string `long:"layer"            env:"MERIDIANSHIFT_LAYER"  description:"Layer name stored in the output"`
	SourceCRS  string `long:"source-crs"       env:"MERIDIANSHIFT_SOURCE_CRS" description:"Override the coordinate system of the input"`

	Authority       string   `long:"authority"        env:"MERIDIANSHIFT_AUTHORITY"        description:"Target authority code, replaces the projection family"`
	Family          string   `long:"family"           env:"MERIDIANSHIFT_FAMILY"           description:"Target projection family" choice:"wintri" choice:"aitoff" choice:"eqc" choice:"merc"`
	CentralMeridian *float64 `long:"central-meridian" env:"MERIDIANSHIFT_CENTRAL_MERIDIAN" description:"Target central meridian in degrees"`

	Policy      string `long:"policy"        env:"MERIDIANSHIFT_POLICY"  description:"What to do with features that cannot be projected" choice:"null-geometry" choice:"drop" choice:"abort"`
	NoSeamSplit bool   `long:"no-seam-split" description:"Do not cut polygons at the antimeridian of the target"`
	NoIndex     bool   `long:"no-index"      description:"Do not write a FlatGeobuf spatial index"`
	Workers     *int   `long:"workers"       env:"MERIDIANSHIFT_WORKERS" description:"Features processed concurrently (0 = all CPUs)"`
	TempDir     string `long:"temp-dir"      env:"MERIDIANSHIFT_TEMP_DIR" description:"Directory for staging files"`
}

func main() {
	os.Exit(run())
}

func run() int {
	// Variables already in the environment win over the .env file.
	_ = godotenv.Load(".env")

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 1
	}

	log := opts.Logger.Setup()

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	req, env, err := prepare(cfg, &opts, log)
	if err != nil {
		log.Error().Err(err).Str("path", opts.Input).Msg("Failed to prepare run")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := meridianshift.New(env)
	p.OnTransition(func(t meridianshift.Transition) {
		log.Debug().Str("stage", t.To.String()).Msg("Stage started")
	})

	res, err := p.Run(ctx, req)
	for _, w := range res.Warnings {
		log.Warn().
			Err(w.Err).
			Str("stage", w.Stage.String()).
			Interface("feature", w.FeatureID).
			Int("index", w.Index).
			Msg("Feature problem")
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("stage", res.FailedStage.String()).
			Msg("Run failed")
		return 1
	}

	c := res.Counts
	log.Info().
		Str("path", res.Path).
		Str("crs", res.Target.String()).
		Bool("wgs84_skipped", res.SkippedWGS84).
		Int("features", c.Written).
		Int("repaired", c.Repaired).
		Int("unrepairable", c.Unrepairable).
		Int("transform_failed", c.TransformFailed).
		Int("dropped", c.Dropped).
		Int("split", c.Split).
		Msg("Done")
	return 0
}

// loadConfig reads path, or DefaultFile when path is empty and the file
// exists, or returns the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultFile); err == nil {
		return config.Load(config.DefaultFile)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return config.Default(), nil
}

// apply copies the options that were set over the configuration.
func (o *Options) apply(cfg *config.Config) {
	if o.Authority != "" {
		cfg.Target.Authority = o.Authority
	} else if o.Family != "" || o.CentralMeridian != nil {
		// An explicit projection on the command line replaces an authority
		// code from the file.
		cfg.Target.Authority = ""
	}
	if o.Family != "" {
		cfg.Target.Family = o.Family
	}
	if o.CentralMeridian != nil {
		cfg.Target.CentralMeridian = *o.CentralMeridian
	}
	if o.Policy != "" {
		cfg.OnDomainError = o.Policy
	}
	if o.NoSeamSplit {
		cfg.SplitAtSeam = false
	}
	if o.Workers != nil {
		cfg.Workers = *o.Workers
	}
	if o.TempDir != "" {
		cfg.TempDir = o.TempDir
	}
	if o.Format != "" {
		cfg.Output.Format = o.Format
	}
	if o.Layer != "" {
		cfg.Output.Layer = o.Layer
	}
}

// prepare reads the input and builds the request and its environment.
func prepare(cfg *config.Config, o *Options, log zerolog.Logger) (meridianshift.Request, meridianshift.Env, error) {
	var (
		req meridianshift.Request
		env meridianshift.Env
	)
	reg, err := cfg.Registry()
	if err != nil {
		return req, env, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return req, env, err
	}
	format, err := cfg.Format()
	if err != nil {
		return req, env, err
	}

	in, err := vector.Read(o.Input, reg)
	if err != nil {
		return req, env, err
	}
	log.Info().
		Str("path", o.Input).
		Int("features", in.Len()).
		Str("crs", crsName(in, o.SourceCRS)).
		Msg("Input loaded")

	env = meridianshift.Env{
		Registry: reg,
		TempDir:  cfg.TempDir,
		Workers:  cfg.Workers,
		Engine:   geometry.Planar{},
		Logger:   log,
	}
	req = meridianshift.Request{
		Collection:  in,
		SourceCRS:   o.SourceCRS,
		Target:      cfg.CRSTarget(),
		Output:      o.Output,
		Format:      format,
		Layer:       cfg.Output.Layer,
		Policy:      policy,
		SplitAtSeam: cfg.SplitAtSeam,
		NoIndex:     o.NoIndex,
	}
	return req, env, nil
}

func crsName(in *feature.Collection, override string) string {
	switch {
	case override != "":
		return override
	case in.CRS != nil:
		return in.CRS.String()
	}
	return "none"
}
