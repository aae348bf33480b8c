package ci

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
)

const repoWorkflow = "../../.github/workflows/ci.yml"

func TestRepoWorkflow_IsValid(t *testing.T) {
	// Given: the repository's CI workflow
	wf, err := LoadWorkflow(repoWorkflow)
	require.NoError(t, err)

	// Then: it validates
	require.NoError(t, wf.Validate())

	// And: the test job runs the phases in order
	job, ok := wf.Jobs["test"]
	require.True(t, ok)
	assert.Equal(t,
		[]Phase{PhaseCreateDB, PhaseInstall, PhaseLint, PhaseTest, PhaseUpload},
		job.Phases())
	assert.Len(t, job.Strategy.Matrix.Include, 2)
}

func TestLoadWorkflow_MissingFile(t *testing.T) {
	_, err := LoadWorkflow("does-not-exist.yml")

	assert.Equal(t, vacerrors.ErrCodeConfigNotFound, vacerrors.GetCode(err))
}

func TestParseWorkflow_InvalidYAML(t *testing.T) {
	_, err := ParseWorkflow([]byte("jobs: [unterminated"))

	assert.Equal(t, vacerrors.CategoryConfig, vacerrors.GetCategory(err))
}

func TestPhaseOf(t *testing.T) {
	tests := []struct {
		step Step
		want Phase
	}{
		{Step{Run: "psql -c 'CREATE DATABASE guillotina;'"}, PhaseCreateDB},
		{Step{Run: "createdb guillotina"}, PhaseCreateDB},
		{Step{Run: "go mod download"}, PhaseInstall},
		{Step{Run: "golangci-lint run --config .golangci.yml ./..."}, PhaseLint},
		{Step{Run: "go test -coverprofile=c.out ./..."}, PhaseTest},
		{Step{Uses: "codecov/codecov-action@v4"}, PhaseUpload},
		{Step{Uses: "actions/checkout@v4"}, PhaseOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PhaseOf(tt.step), "%+v", tt.step)
	}
}

// workflow builds a valid workflow and lets mutate break it.
func workflow(mutate func(j *Job)) *Workflow {
	j := Job{
		Strategy: Strategy{Matrix: Matrix{Include: []map[string]string{
			{"ES_VERSION": "6", "DATABASE": ""},
			{"ES_VERSION": "6", "DATABASE": "postgresql"},
		}}},
		Services: map[string]Service{
			"postgres":      {Image: "postgres:14"},
			"elasticsearch": {Image: "elasticsearch:6.8.23"},
		},
		Env: map[string]string{
			"ES_VERSION": "${{ matrix.ES_VERSION }}",
			"DATABASE":   "${{ matrix.DATABASE }}",
		},
		Steps: []Step{
			{Run: "psql -c 'CREATE DATABASE guillotina;'"},
			{Run: "go mod download"},
			{Run: "golangci-lint run --config .golangci.yml ./..."},
			{Run: "go test -coverprofile=coverage.out ./..."},
			{Uses: "codecov/codecov-action@v4", If: "success()"},
		},
	}
	if mutate != nil {
		mutate(&j)
	}
	return &Workflow{Jobs: map[string]Job{"test": j}}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(j *Job)
		wantErr string
	}{
		{"valid", nil, ""},
		{"empty matrix", func(j *Job) { j.Strategy.Matrix.Include = nil }, "matrix is empty"},
		{"no postgres variant", func(j *Job) {
			j.Strategy.Matrix.Include = j.Strategy.Matrix.Include[:1]
		}, "DATABASE=postgresql"},
		{"no plain variant", func(j *Job) {
			j.Strategy.Matrix.Include = j.Strategy.Matrix.Include[1:]
		}, "without DATABASE"},
		{"env not from matrix", func(j *Job) { j.Env["DATABASE"] = "postgresql" }, "env DATABASE"},
		{"no database service", func(j *Job) { delete(j.Services, "postgres") }, "no database service"},
		{"only database service", func(j *Job) { delete(j.Services, "elasticsearch") }, "besides the database"},
		{"lint after test", func(j *Job) {
			j.Steps[2], j.Steps[3] = j.Steps[3], j.Steps[2]
		}, "out of order"},
		{"no db created", func(j *Job) { j.Steps = j.Steps[1:] }, "create-db"},
		{"ungated upload", func(j *Job) { j.Steps[4].If = "" }, "only run on success"},
		{"lint without config", func(j *Job) { j.Steps[2].Run = "golangci-lint run ./..." }, "named config"},
		{"test without coverage", func(j *Job) { j.Steps[3].Run = "go test ./..." }, "coverage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := workflow(tt.mutate).Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "got %v", err)
		})
	}
}

func TestValidate_NoJobs(t *testing.T) {
	assert.Error(t, (&Workflow{}).Validate())
}
