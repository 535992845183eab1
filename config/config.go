// Package config handles the YAML configuration file of the command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/reproject"
	"github.com/mqsol/MeridianShift/vector"
)

// DefaultFile is read when no configuration file is named and it exists.
const DefaultFile = "meridianshift.yaml"

// Config represents the root configuration file structure.
type Config struct {
	Target        Target `yaml:"target"`
	OnDomainError string `yaml:"on_domain_error"`
	SplitAtSeam   bool   `yaml:"split_at_seam"`

	// Workers bounds per-feature concurrency; 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// TempDir holds the staging directory; empty means next to the output.
	TempDir string `yaml:"temp_dir"`

	Output Output `yaml:"output"`

	// Definitions adds AUTH:CODE identifiers to the registry.
	Definitions map[string]string `yaml:"definitions,omitempty"`
}

// Target is the output coordinate system. Authority wins over the family
// fields when set.
type Target struct {
	Authority       string  `yaml:"authority,omitempty"`
	Family          string  `yaml:"family"`
	CentralMeridian float64 `yaml:"central_meridian"`
	Datum           string  `yaml:"datum"`
}

// Output configures the written file.
type Output struct {
	Format string `yaml:"format,omitempty"`
	Layer  string `yaml:"layer,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	t := crs.DefaultTarget()
	return &Config{
		Target: Target{
			Family:          t.Family,
			CentralMeridian: t.CentralMeridian,
			Datum:           t.Datum,
		},
		OnDomainError: reproject.NullGeometry.String(),
		SplitAtSeam:   true,
	}
}

// Load reads and parses the YAML configuration file at path. Keys missing
// from the file keep their defaults; unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses a YAML document on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that can be checked without resolving a CRS.
func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.Format(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Target.Authority == "" && c.Target.Family == "" {
		return errors.New("target needs an authority or a projection family")
	}
	return nil
}

// CRSTarget returns the target in the form the registry resolves.
func (c *Config) CRSTarget() crs.Target {
	return crs.Target{
		Authority:       c.Target.Authority,
		Family:          c.Target.Family,
		CentralMeridian: c.Target.CentralMeridian,
		Datum:           c.Target.Datum,
	}
}

// Policy returns the domain error policy.
func (c *Config) Policy() (reproject.Policy, error) {
	return reproject.ParsePolicy(c.OnDomainError)
}

// Format returns the output format; FormatAuto when none is configured.
func (c *Config) Format() (vector.Format, error) {
	return vector.ParseFormat(c.Output.Format)
}

// Registry returns a fresh registry with the configured definitions added,
// in code order.
func (c *Config) Registry() (*crs.Registry, error) {
	reg := crs.NewRegistry()
	codes := make([]string, 0, len(c.Definitions))
	for code := range c.Definitions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if err := reg.Define(code, c.Definitions[code]); err != nil {
			return nil, fmt.Errorf("definition %s: %w", code, err)
		}
	}
	return reg, nil
}
