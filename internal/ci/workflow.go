// Package ci checks the GitHub Actions workflow that builds and tests
// esvacuum against every backend combination.
package ci

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

// Workflow is the subset of a GitHub Actions workflow that is checked.
type Workflow struct {
	Name string         `yaml:"name"`
	Jobs map[string]Job `yaml:"jobs"`
}

// Job is one workflow job.
type Job struct {
	RunsOn   string             `yaml:"runs-on"`
	Strategy Strategy           `yaml:"strategy"`
	Services map[string]Service `yaml:"services"`
	Env      map[string]string  `yaml:"env"`
	Steps    []Step             `yaml:"steps"`
}

// Strategy holds the job matrix.
type Strategy struct {
	Matrix Matrix `yaml:"matrix"`
}

// Matrix lists the explicit variants of a job.
type Matrix struct {
	Include []map[string]string `yaml:"include"`
}

// Service is a container started next to the job.
type Service struct {
	Image string            `yaml:"image"`
	Env   map[string]string `yaml:"env"`
}

// Step is one job step.
type Step struct {
	Name string            `yaml:"name"`
	Uses string            `yaml:"uses"`
	Run  string            `yaml:"run"`
	If   string            `yaml:"if"`
	With map[string]string `yaml:"with"`
}

// Phase classifies what a step does.
type Phase string

const (
	PhaseOther    Phase = ""
	PhaseCreateDB Phase = "create-db"
	PhaseInstall  Phase = "install"
	PhaseLint     Phase = "lint"
	PhaseTest     Phase = "test"
	PhaseUpload   Phase = "upload"
)

// Database is the name created before the tests run.
const Database = "guillotina"

// LoadWorkflow reads and parses a workflow file.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vacerrors.New(vacerrors.ErrCodeConfigNotFound, "failed to read workflow", err).
			WithDetail("path", path)
	}
	return ParseWorkflow(data)
}

// ParseWorkflow parses workflow YAML.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, vacerrors.ConfigError("workflow is not valid YAML", err)
	}
	return &wf, nil
}

// PhaseOf classifies a step by the command it runs or the action it uses.
func PhaseOf(s Step) Phase {
	run := strings.ToLower(s.Run)
	switch {
	case strings.Contains(run, "create database "+Database) || strings.Contains(run, "createdb "+Database):
		return PhaseCreateDB
	case strings.Contains(run, "golangci-lint run"):
		return PhaseLint
	case strings.Contains(run, "go test"):
		return PhaseTest
	case strings.Contains(run, "go install") || strings.Contains(run, "go mod download"):
		return PhaseInstall
	case strings.Contains(s.Uses, "codecov") || strings.Contains(strings.ToLower(s.Name), "upload coverage"):
		return PhaseUpload
	default:
		return PhaseOther
	}
}

// Phases returns the classified phases of job in step order, skipping
// unclassified steps.
func (j Job) Phases() []Phase {
	var out []Phase
	for _, s := range j.Steps {
		if p := PhaseOf(s); p != PhaseOther {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that every job runs the matrix and step order the test
// pipeline depends on.
func (w *Workflow) Validate() error {
	if len(w.Jobs) == 0 {
		return vacerrors.ValidationError("workflow declares no jobs", nil)
	}
	for name, job := range w.Jobs {
		if err := job.validate(); err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
	}
	return nil
}

func (j Job) validate() error {
	if err := j.validateMatrix(); err != nil {
		return err
	}
	if err := j.validateServices(); err != nil {
		return err
	}
	return j.validateSteps()
}

// validateMatrix requires ES_VERSION=6 both without a database and with
// DATABASE=postgresql.
func (j Job) validateMatrix() error {
	variants := j.Strategy.Matrix.Include
	if len(variants) == 0 {
		return vacerrors.ValidationError("matrix is empty", nil)
	}
	var plain, postgres bool
	for _, v := range variants {
		if v["ES_VERSION"] != "6" {
			continue
		}
		switch v["DATABASE"] {
		case "":
			plain = true
		case "postgresql":
			postgres = true
		}
	}
	if !plain {
		return vacerrors.ValidationError("matrix lacks ES_VERSION=6 without DATABASE", nil)
	}
	if !postgres {
		return vacerrors.ValidationError("matrix lacks ES_VERSION=6 with DATABASE=postgresql", nil)
	}
	for _, key := range []string{"ES_VERSION", "DATABASE"} {
		if !strings.Contains(j.Env[key], "matrix."+key) {
			return vacerrors.ValidationError(fmt.Sprintf("env %s is not taken from the matrix", key), nil)
		}
	}
	return nil
}

// validateServices requires a relational database and at least one other
// container service.
func (j Job) validateServices() error {
	var db, other bool
	for _, s := range j.Services {
		switch {
		case strings.HasPrefix(s.Image, "postgres"):
			db = true
		case s.Image != "":
			other = true
		}
	}
	if !db {
		return vacerrors.ValidationError("no database service", nil)
	}
	if !other {
		return vacerrors.ValidationError("no container service besides the database", nil)
	}
	return nil
}

// validateSteps requires create-db, install, lint, test and upload in that
// order, with the upload gated on success.
func (j Job) validateSteps() error {
	want := []Phase{PhaseCreateDB, PhaseInstall, PhaseLint, PhaseTest, PhaseUpload}
	got := j.Phases()

	i := 0
	for _, p := range got {
		if i < len(want) && p == want[i] {
			i++
		}
	}
	if i < len(want) {
		return vacerrors.ValidationError(
			fmt.Sprintf("steps out of order or missing %s (got %v)", want[i], got), nil)
	}

	for _, s := range j.Steps {
		if PhaseOf(s) == PhaseUpload && !strings.Contains(s.If, "success()") {
			return vacerrors.ValidationError("coverage upload must only run on success", nil)
		}
		if PhaseOf(s) == PhaseLint && !strings.Contains(s.Run, "--config") {
			return vacerrors.ValidationError("lint must use a named config file", nil)
		}
		if PhaseOf(s) == PhaseTest && !strings.Contains(s.Run, "-coverprofile") {
			return vacerrors.ValidationError("tests must collect coverage", nil)
		}
	}
	return nil
}
