// Package esmvaltool builds ESMValTool recipes that prepare forcing data for
// hydrological models and runs them with the esmvaltool command.
package esmvaltool

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Dataset is an entry of the datasets section of a recipe. Keys ESMValTool
// knows but this type does not end up in Extra.
type Dataset struct {
	Dataset   string `yaml:"dataset"`
	Project   string `yaml:"project,omitempty"`
	StartYear int    `yaml:"start_year,omitempty"`
	EndYear   int    `yaml:"end_year,omitempty"`
	Ensemble  string `yaml:"ensemble,omitempty"`
	// Exp is a single experiment name or a list of them.
	Exp   any    `yaml:"exp,omitempty"`
	Mip   string `yaml:"mip,omitempty"`
	Realm string `yaml:"realm,omitempty"`
	Shift string `yaml:"shift,omitempty"`
	Tier  int    `yaml:"tier,omitempty"`
	Type  string `yaml:"type,omitempty"`
	Grid  string `yaml:"grid,omitempty"`
	// Version is a number or a string like v20190125.
	Version any `yaml:"version,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

type Variable struct {
	Project            string    `yaml:"project,omitempty"`
	StartYear          int       `yaml:"start_year,omitempty"`
	EndYear            int       `yaml:"end_year,omitempty"`
	Ensemble           string    `yaml:"ensemble,omitempty"`
	Timerange          string    `yaml:"timerange,omitempty"`
	Exp                any       `yaml:"exp,omitempty"`
	Mip                string    `yaml:"mip,omitempty"`
	Preprocessor       string    `yaml:"preprocessor,omitempty"`
	ReferenceDataset   string    `yaml:"reference_dataset,omitempty"`
	AlternativeDataset string    `yaml:"alternative_dataset,omitempty"`
	FxFiles            []string  `yaml:"fx_files,omitempty"`
	AdditionalDatasets []Dataset `yaml:"additional_datasets,omitempty"`
	ShortName          string    `yaml:"short_name,omitempty"`
}

// Script is a diagnostic script. Its arguments sit next to the script key.
type Script struct {
	Script string         `yaml:"script"`
	Args   map[string]any `yaml:",inline"`
}

type Diagnostic struct {
	Title              string            `yaml:"title,omitempty"`
	Description        string            `yaml:"description,omitempty"`
	Themes             []string          `yaml:"themes,omitempty"`
	Realms             []string          `yaml:"realms,omitempty"`
	Variables          Ordered[Variable] `yaml:"variables,omitempty"`
	AdditionalDatasets []Dataset         `yaml:"additional_datasets,omitempty"`
	Scripts            Ordered[Script]   `yaml:"scripts"`
}

type Documentation struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Authors     []string `yaml:"authors"`
	Projects    []string `yaml:"projects,omitempty"`
	References  []string `yaml:"references,omitempty"`
}

// Preprocessor maps preprocessor function names to their arguments.
type Preprocessor = Ordered[map[string]any]

type Recipe struct {
	Documentation Documentation         `yaml:"documentation"`
	Datasets      []Dataset             `yaml:"datasets,omitempty"`
	Preprocessors Ordered[Preprocessor] `yaml:"preprocessors,omitempty"`
	Diagnostics   Ordered[Diagnostic]   `yaml:"diagnostics"`
}

var (
	climateOperators = []string{"mean", "std", "min", "max", "median", "sum"}
	climatePeriods   = []string{"hour", "day", "month", "year"}
)

// ClimateStatistics configures the climate_statistics preprocessor.
type ClimateStatistics struct {
	Operator string `yaml:"operator"`
	Period   string `yaml:"period"`
}

// DailyMean is the climatology used by most models.
var DailyMean = ClimateStatistics{Operator: "mean", Period: "day"}

func (c ClimateStatistics) Validate() error {
	if !slices.Contains(climateOperators, c.Operator) {
		return fmt.Errorf("climate statistics operator %q must be one of %v", c.Operator, climateOperators)
	}
	if !slices.Contains(climatePeriods, c.Period) {
		return fmt.Errorf("climate statistics period %q must be one of %v", c.Period, climatePeriods)
	}
	return nil
}

func (c ClimateStatistics) args() map[string]any {
	return map[string]any{"operator": c.Operator, "period": c.Period}
}

// YAML renders the recipe with empty fields left out.
func (r Recipe) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode recipe: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode recipe: %w", err)
	}
	return buf.Bytes(), nil
}

func (r Recipe) Save(path string) error {
	data, err := r.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write recipe %s: %w", path, err)
	}
	return nil
}

// ParseRecipe reads a recipe document.
func ParseRecipe(data []byte) (Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Recipe{}, fmt.Errorf("parse recipe: %w", err)
	}
	if r.Diagnostics.Len() == 0 {
		return Recipe{}, errors.New("parse recipe: recipe has no diagnostics")
	}
	return r, nil
}

func LoadRecipe(path string) (Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, fmt.Errorf("read recipe: %w", err)
	}
	return ParseRecipe(data)
}
