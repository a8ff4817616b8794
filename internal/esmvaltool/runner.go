package esmvaltool

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/adrg/xdg"
	"github.com/batchatco/go-native-netcdf/netcdf"

	"github.com/ewatercycle/ewatercycle-go/internal/platform/env"
)

//go:embed diagnostic/copy.py
var copyScript []byte

var ErrNoOutput = errors.New("No recipe output files found")

// Config locates the esmvaltool command and where it writes its runs.
type Config struct {
	Bin       string
	OutputDir string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Bin:       env.String("EWATERCYCLE_ESMVALTOOL_BIN", "esmvaltool"),
		OutputDir: env.String("EWATERCYCLE_ESMVALTOOL_OUTPUT_DIR", filepath.Join(xdg.Home, "esmvaltool_output")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Bin) == "" {
		return errors.New("esmvaltool binary is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("esmvaltool output dir is required")
	}
	return nil
}

// CommandRunner runs a command to completion and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// RecipeRunner runs a recipe and reports the forcing files it produced.
type RecipeRunner interface {
	Run(ctx context.Context, recipe Recipe, outputDir string) (Output, error)
}

// Output maps forcing variable names to file names inside Directory.
type Output struct {
	Directory string
	Files     map[string]string
}

type Runner struct {
	cfg    Config
	run    CommandRunner
	logger *slog.Logger
}

func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, run: execRunner, logger: logger}
}

// Run saves the recipe to a temporary ewcrep*.yml file, runs esmvaltool on
// it and parses the output of the first script of the first diagnostic.
// An empty outputDir uses the configured one.
func (r *Runner) Run(ctx context.Context, recipe Recipe, outputDir string) (Output, error) {
	if outputDir == "" {
		outputDir = r.cfg.OutputDir
	}
	outputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return Output{}, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}
	diagName, scriptName, err := firstScript(recipe)
	if err != nil {
		return Output{}, err
	}

	tmp, err := os.MkdirTemp("", "ewcrep")
	if err != nil {
		return Output{}, fmt.Errorf("create recipe dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	scriptPath := filepath.Join(tmp, "copy.py")
	if err := os.WriteFile(scriptPath, copyScript, 0o644); err != nil {
		return Output{}, fmt.Errorf("write copy diagnostic: %w", err)
	}
	f, err := os.CreateTemp(tmp, "ewcrep*.yml")
	if err != nil {
		return Output{}, fmt.Errorf("create recipe file: %w", err)
	}
	recipePath := f.Name()
	f.Close()
	if err := withCopyScript(recipe, scriptPath).Save(recipePath); err != nil {
		return Output{}, err
	}

	r.logger.Info("running recipe", "recipe", recipePath, "output_dir", outputDir)
	out, err := r.run(ctx, r.cfg.Bin, "run", "--output_dir", outputDir, recipePath)
	if err != nil {
		return Output{}, fmt.Errorf("esmvaltool run failed: %w: %s", err, lastLines(out, 20))
	}

	stem := strings.TrimSuffix(filepath.Base(recipePath), ".yml")
	runDir, err := newestRunDir(outputDir, stem)
	if err != nil {
		return Output{}, err
	}
	return ParseOutput(filepath.Join(runDir, "work", diagName, scriptName))
}

func firstScript(recipe Recipe) (string, string, error) {
	diags := recipe.Diagnostics.Keys()
	if len(diags) == 0 {
		return "", "", errors.New("recipe has no diagnostics")
	}
	diag, _ := recipe.Diagnostics.Get(diags[0])
	scripts := diag.Scripts.Keys()
	if len(scripts) == 0 {
		return "", "", fmt.Errorf("diagnostic %s has no scripts", diags[0])
	}
	return diags[0], scripts[0], nil
}

// withCopyScript returns a copy of recipe where the built-in copy diagnostic
// points at path.
func withCopyScript(recipe Recipe, path string) Recipe {
	var diagnostics Ordered[Diagnostic]
	for _, name := range recipe.Diagnostics.Keys() {
		diag, _ := recipe.Diagnostics.Get(name)
		var scripts Ordered[Script]
		for _, key := range diag.Scripts.Keys() {
			s, _ := diag.Scripts.Get(key)
			if s.Script == CopyDiagnostic {
				s.Script = path
			}
			scripts.Set(key, s)
		}
		diag.Scripts = scripts
		diagnostics.Set(name, diag)
	}
	recipe.Diagnostics = diagnostics
	return recipe
}

// newestRunDir finds the latest <stem>_YYYYMMDD_HHMMSS directory esmvaltool created.
func newestRunDir(outputDir, stem string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(outputDir, stem+"_*"))
	if err != nil {
		return "", fmt.Errorf("find run dir: %w", err)
	}
	var dirs []string
	for _, m := range matches {
		if st, err := os.Stat(m); err == nil && st.IsDir() {
			dirs = append(dirs, m)
		}
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("no esmvaltool run directory for %s in %s", stem, outputDir)
	}
	slices.Sort(dirs)
	return dirs[len(dirs)-1], nil
}

var (
	imageExts = []string{".png", ".jpg", ".jpeg", ".svg", ".pdf", ".eps"}
	// Sidecars the provenance logger writes next to each output file.
	provenanceSuffixes = []string{"_provenance.xml", "_provenance.svg", "_citation.bibtex", "_data_citation_info.txt"}
)

// ParseOutput maps the files in a diagnostic script directory to variable
// names. NetCDF files are keyed by their first data variable, images are
// skipped and anything else is keyed by its file name without extension.
func ParseOutput(dir string) (Output, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Output{}, fmt.Errorf("read recipe output: %w", err)
	}
	files := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || isProvenance(name) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if slices.Contains(imageExts, ext) {
			continue
		}
		key := strings.TrimSuffix(name, filepath.Ext(name))
		if ext == ".nc" {
			key, err = FirstDataVariable(filepath.Join(dir, name))
			if err != nil {
				return Output{}, err
			}
		}
		files[key] = name
	}
	if len(files) == 0 {
		return Output{}, fmt.Errorf("%w in %s", ErrNoOutput, dir)
	}
	return Output{Directory: dir, Files: files}, nil
}

func isProvenance(name string) bool {
	for _, s := range provenanceSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// FirstDataVariable returns the first variable of a NetCDF file that is
// neither a coordinate nor referenced as bounds or auxiliary coordinate.
func FirstDataVariable(path string) (string, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()

	names := nc.ListVariables()
	skip := map[string]bool{}
	var candidates []string
	for _, name := range names {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			return "", fmt.Errorf("read %s in %s: %w", name, path, err)
		}
		dims := vg.Dimensions()
		if len(dims) == 1 && dims[0] == name {
			continue
		}
		if attrs := vg.Attributes(); attrs != nil {
			for _, key := range []string{"bounds", "coordinates"} {
				if v, ok := attrs.Get(key); ok {
					if s, ok := v.(string); ok {
						for _, ref := range strings.Fields(s) {
							skip[ref] = true
						}
					}
				}
			}
		}
		candidates = append(candidates, name)
	}
	for _, name := range candidates {
		if !skip[name] {
			return name, nil
		}
	}
	return "", fmt.Errorf("no data variable in %s", path)
}

func lastLines(out []byte, n int) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
