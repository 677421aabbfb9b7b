package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SolverParams controls an iterative solve
type SolverParams struct {
	Restart int     `yaml:"restart"`
	MaxIt   int     `yaml:"maxit"`
	EpsCG   float64 `yaml:"epscg"`
}

// Measurement describes a set of source or observation locations on a
// sphere (or far-field directions when Radius is zero). Angles are degrees.
type Measurement struct {
	NTheta     int        `yaml:"ntheta"`
	NPhi       int        `yaml:"nphi"`
	Radius     float64    `yaml:"radius"`
	ThetaRange [2]float64 `yaml:"trange"`
	PhiRange   [2]float64 `yaml:"prange"`
}

// DBIMParams holds the outer-loop schedule. Regularization is
// [initial, minimum, factor, interval]: every interval iterations the
// parameter is multiplied by factor while it exceeds minimum.
type DBIMParams struct {
	Iterations     int        `yaml:"iterations"`
	Regularization [4]float64 `yaml:"regularization"`
	Tolerance      float64    `yaml:"tolerance"`
}

// Run is the full description of an inversion run
type Run struct {
	FMA      Config       `yaml:"fma"`
	High     SolverParams `yaml:"high"`
	Low      SolverParams `yaml:"low"`
	Source   Measurement  `yaml:"source"`
	Observer Measurement  `yaml:"observer"`
	DBIM     DBIMParams   `yaml:"dbim"`
}

// Load reads and validates a YAML run file
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	run, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return run, nil
}

// Parse decodes and validates a YAML run description
func Parse(data []byte) (*Run, error) {
	var run Run
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	fma, err := New(run.FMA)
	if err != nil {
		return nil, fmt.Errorf("fma: %w", err)
	}
	run.FMA = *fma
	for name, sp := range map[string]*SolverParams{"high": &run.High, "low": &run.Low} {
		if err := sp.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	for name, m := range map[string]Measurement{"source": run.Source, "observer": run.Observer} {
		if m.NTheta <= 0 || m.NPhi <= 0 {
			return nil, fmt.Errorf("%w: %s needs positive ntheta and nphi", ErrInvalid, name)
		}
	}
	if run.DBIM.Iterations < 0 {
		return nil, fmt.Errorf("%w: dbim iterations must not be negative", ErrInvalid)
	}
	if run.DBIM.Regularization[3] < 1 {
		run.DBIM.Regularization[3] = 1
	}
	return &run, nil
}

// Marshal renders the run back to YAML, used to tag stored snapshots
func (r *Run) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

func (sp *SolverParams) validate() error {
	if sp.MaxIt <= 0 {
		return fmt.Errorf("%w: maxit must be positive, got %d", ErrInvalid, sp.MaxIt)
	}
	if !(sp.EpsCG > 0 && sp.EpsCG < 1) {
		return fmt.Errorf("%w: epscg must be in (0,1), got %g", ErrInvalid, sp.EpsCG)
	}
	if sp.Restart <= 0 {
		sp.Restart = sp.MaxIt
	}
	return nil
}
