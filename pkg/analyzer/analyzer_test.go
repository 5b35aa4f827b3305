package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeTaskTypes(t *testing.T) {
	a := NewTaskAnalyzer()

	tests := []struct {
		name   string
		prompt string
		want   TaskType
	}{
		{"debugging", "Fix the crash when parsing empty input, there is a traceback", TaskTypeDebugging},
		{"code review", "Please review this pull request and give quality feedback", TaskTypeCodeReview},
		{"generation", "Implement and build a rate limiter, generate the scaffold", TaskTypeCodeGeneration},
		{"refactoring", "Refactor the parser to simplify and extract helpers", TaskTypeRefactoring},
		{"testing", "Add unit test coverage with pytest and mock the client", TaskTypeTesting},
		{"documentation", "Document the public API, update the readme and docstring text", TaskTypeDocumentation},
		{"security audit", "Audit for injection and xss vulnerability, check auth hardening", TaskTypeSecurityAudit},
		{"architecture", "Propose a system design with a microservice pattern and schema", TaskTypeArchitecture},
		{"research", "Run a competitive analysis and market research report", TaskTypeResearchIntelligence},
		{"harvesting", "Set up a data pipeline for data ingestion and scrape sources", TaskTypeDataHarvesting},
		{"secops", "Perform a threat assessment and vulnerability scan with incident response runbook", TaskTypeSecurityOperations},
		{"general", "hello there", TaskTypeGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := a.Analyze(tt.prompt, nil)
			assert.Equal(t, tt.want, result.TaskType)
		})
	}
}

func TestAnalyzeConfidence(t *testing.T) {
	a := NewTaskAnalyzer()

	// No keywords at all: general with baseline confidence.
	result := a.Analyze("xyzzy", nil)
	assert.Equal(t, TaskTypeGeneral, result.TaskType)
	assert.InDelta(t, 0.3, result.Confidence, 0.001)

	// Many matching keywords cap at 1.0.
	result = a.Analyze("debug fix bug error issue problem crash broken failing", nil)
	assert.Equal(t, TaskTypeDebugging, result.TaskType)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestAnalyzeComplexity(t *testing.T) {
	a := NewTaskAnalyzer()

	tests := []struct {
		name   string
		prompt string
		files  []string
		want   Complexity
	}{
		{"explicit complex", "Migrate the entire service", nil, ComplexityComplex},
		{"explicit simple", "Fix a typo", nil, ComplexitySimple},
		{"many context files", "Handle the request validation work and ensure the middleware pieces cooperate with the session layer end to end properly",
			[]string{"a", "b", "c", "d", "e", "f"}, ComplexityComplex},
		{"few context files", "Handle the request validation work and ensure the middleware pieces cooperate with the session layer end to end properly",
			[]string{"a", "b", "c"}, ComplexityModerate},
		{"long prompt", strings.Repeat("work on the module and expand behaviors carefully ", 12), nil, ComplexityComplex},
		{"short prompt", "update the handler", nil, ComplexitySimple},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var taskContext *Context
			if tt.files != nil {
				taskContext = &Context{Files: tt.files}
			}
			result := a.Analyze(tt.prompt, taskContext)
			assert.Equal(t, tt.want, result.Complexity)
		})
	}
}

func TestAnalyzeLanguages(t *testing.T) {
	a := NewTaskAnalyzer()

	result := a.Analyze("Port utils.py to main.go and update the SQL query", nil)
	assert.Contains(t, result.DetectedLanguages, "python")
	assert.Contains(t, result.DetectedLanguages, "go")
	assert.Contains(t, result.DetectedLanguages, "sql")
	assert.NotContains(t, result.DetectedLanguages, "rust")
}

func TestAnalyzeFileScope(t *testing.T) {
	a := NewTaskAnalyzer()

	tests := []struct {
		name   string
		prompt string
		want   int
	}{
		{"codebase wide", "Lint the entire codebase", 50},
		{"multiple files", "Update types in multiple files", 10},
		{"single file", "Change just this file please", 1},
		{"counted paths", "Compare pkg/a.go and pkg/b.go and lib/c.py", 3},
		{"default", "do something unspecified", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := a.Analyze(tt.prompt, nil)
			assert.Equal(t, tt.want, result.FileScope)
		})
	}
}

func TestAnalyzeFileScopeFromContext(t *testing.T) {
	a := NewTaskAnalyzer()
	result := a.Analyze("review these", &Context{Files: []string{"a.go", "b.go"}})
	assert.Equal(t, 2, result.FileScope)
}

func TestAnalyzeTagsAndCapabilities(t *testing.T) {
	a := NewTaskAnalyzer()

	result := a.Analyze("Run a threat assessment and security scan across the codebase for python services", nil)
	assert.Equal(t, TaskTypeSecurityOperations, result.TaskType)
	assert.Equal(t, []string{"security_operations", "security_audit", "compliance", "risk_assessment"}, result.Tags)
	assert.Contains(t, result.SuggestedCapabilities, "python")
	// Complex tasks also ask for architecture capability.
	assert.Equal(t, ComplexityComplex, result.Complexity)
	assert.Contains(t, result.SuggestedCapabilities, "architecture")
}
