package rsolver

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/fun"
	"github.com/cpmech/gosl/io"
)

// Config holds the four construction-time parameters of the solver.
type Config struct {
	Damping            float64 `json:"damping"`
	MaxIter            int     `json:"max_iter"`
	Tol                float64 `json:"tol"`
	IterationChunkSize int     `json:"iteration_chunk_size"`
}

// warmupDamping is the fixed damping used for the single warm-up
// sweep in solve_for_marginals, independent of Config.Damping.
const warmupDamping = 0.1

// Validate checks that all fields are present and in range. A
// zero-value Config (never explicitly set) is indistinguishable from
// "missing" for MaxIter and IterationChunkSize, matching inp/sim.go's
// treatment of absent required attributes as errors rather than
// silent defaults.
func (c Config) Validate() error {
	if c.Damping < 0 || c.Damping > 1 {
		return chk.Err("rsolver: damping must be in [0,1], got %v", c.Damping)
	}
	if c.MaxIter <= 0 {
		return fmt.Errorf("%w: max_iter is missing or non-positive", ErrConfigMissing)
	}
	if c.Tol <= 0 {
		return fmt.Errorf("%w: tol is missing or non-positive", ErrConfigMissing)
	}
	if c.IterationChunkSize <= 0 {
		return fmt.Errorf("%w: iteration_chunk_size is missing or non-positive", ErrConfigMissing)
	}
	if c.IterationChunkSize > c.MaxIter {
		return chk.Err("rsolver: iteration_chunk_size (%d) must be <= max_iter (%d)", c.IterationChunkSize, c.MaxIter)
	}
	return nil
}

// ExamplePrms renders Config as a fun.Prms, the same shape gofem uses
// for material parameter groups (inp/mat.go's Material.Prms), so the
// registration surface's config_group argument can be driven by the
// same input format as the rest of the pack's model factories.
func (c Config) ExamplePrms() fun.Prms {
	return fun.Prms{
		&fun.Prm{N: "damping", V: c.Damping},
		&fun.Prm{N: "max_iter", V: float64(c.MaxIter)},
		&fun.Prm{N: "tol", V: c.Tol},
		&fun.Prm{N: "iteration_chunk_size", V: float64(c.IterationChunkSize)},
	}
}

// ConfigFromPrms builds a Config from a fun.Prms group, the inverse of
// ExamplePrms.
func ConfigFromPrms(prms fun.Prms) (cfg Config, err error) {
	has := map[string]bool{}
	for _, p := range prms {
		has[p.N] = true
		switch p.N {
		case "damping":
			cfg.Damping = p.V
		case "max_iter":
			cfg.MaxIter = int(p.V)
		case "tol":
			cfg.Tol = p.V
		case "iteration_chunk_size":
			cfg.IterationChunkSize = int(p.V)
		}
	}
	for _, name := range []string{"damping", "max_iter", "tol", "iteration_chunk_size"} {
		if !has[name] {
			return cfg, fmt.Errorf("%w: parameter %q not found in config_group", ErrConfigMissing, name)
		}
	}
	return cfg, cfg.Validate()
}

// ReadConfig loads a Config from a JSON file, mirroring inp/mat.go's
// ReadMat (io.ReadFile then json.Unmarshal). A key absent from the
// JSON object is reported as ErrConfigMissing.
func ReadConfig(dir, fn string) (cfg Config, err error) {
	b, err := io.ReadFile(filepath.Join(dir, fn))
	if err != nil {
		return cfg, err
	}
	if err = json.Unmarshal(b, &cfg); err != nil {
		return cfg, chk.Err("rsolver: cannot parse config %q: %v", fn, err)
	}
	var fields map[string]json.RawMessage
	if err = json.Unmarshal(b, &fields); err != nil {
		return cfg, chk.Err("rsolver: cannot parse config %q: %v", fn, err)
	}
	for _, name := range []string{"damping", "max_iter", "tol", "iteration_chunk_size"} {
		if _, ok := fields[name]; !ok {
			return cfg, fmt.Errorf("%w: %q not found in config %q", ErrConfigMissing, name, fn)
		}
	}
	return cfg, cfg.Validate()
}
