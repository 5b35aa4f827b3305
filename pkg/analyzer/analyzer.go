// Package analyzer classifies task prompts: what kind of work is being
// asked for, how complex it is, which languages it touches, and how many
// files it likely spans. The router uses the result for model selection.
package analyzer

import (
	"regexp"
	"strings"
)

// TaskType is the detected category of work.
type TaskType string

const (
	TaskTypeCodeReview           TaskType = "code_review"
	TaskTypeDebugging            TaskType = "debugging"
	TaskTypeCodeGeneration       TaskType = "code_generation"
	TaskTypeRefactoring          TaskType = "refactoring"
	TaskTypeTesting              TaskType = "testing"
	TaskTypeDocumentation        TaskType = "documentation"
	TaskTypeSecurityAudit        TaskType = "security_audit"
	TaskTypeArchitecture         TaskType = "architecture"
	TaskTypeResearchIntelligence TaskType = "research_intelligence"
	TaskTypeDataHarvesting       TaskType = "data_harvesting"
	TaskTypeSecurityOperations   TaskType = "security_operations"
	TaskTypeGeneral              TaskType = "general"
)

// Complexity is the estimated size of the task.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Analysis is the structured result of analyzing one prompt.
type Analysis struct {
	TaskType              TaskType   `json:"task_type"`
	Complexity            Complexity `json:"complexity"`
	Tags                  []string   `json:"tags"`
	DetectedLanguages     []string   `json:"detected_languages"`
	FileScope             int        `json:"file_scope"`
	SuggestedCapabilities []string   `json:"suggested_capabilities"`
	Confidence            float64    `json:"confidence"`
}

// Context carries optional hints supplied with the task.
type Context struct {
	Files []string
}

// taskTypeOrder fixes scoring tie-breaks: the earliest type with the top
// score wins.
var taskTypeOrder = []TaskType{
	TaskTypeCodeReview,
	TaskTypeDebugging,
	TaskTypeCodeGeneration,
	TaskTypeRefactoring,
	TaskTypeTesting,
	TaskTypeDocumentation,
	TaskTypeSecurityAudit,
	TaskTypeArchitecture,
	TaskTypeResearchIntelligence,
	TaskTypeDataHarvesting,
	TaskTypeSecurityOperations,
}

var taskPatterns = map[TaskType][]string{
	TaskTypeCodeReview: {
		"review", "analyze", "check", "audit", "inspect", "look at",
		"quality", "feedback", "evaluate", "assess",
	},
	TaskTypeDebugging: {
		"debug", "fix", "bug", "error", "issue", "problem", "crash",
		"broken", "failing", "exception", "traceback", "stack trace",
	},
	TaskTypeCodeGeneration: {
		"write", "create", "implement", "build", "develop", "generate",
		"add", "make", "construct", "scaffold",
	},
	TaskTypeRefactoring: {
		"refactor", "restructure", "reorganize", "improve", "optimize",
		"clean up", "simplify", "extract", "decompose",
	},
	TaskTypeTesting: {
		"test", "testing", "unit test", "integration test", "pytest",
		"coverage", "spec", "assertion", "mock",
	},
	TaskTypeDocumentation: {
		"document", "documentation", "docstring", "readme", "comment",
		"explain", "describe", "annotate",
	},
	TaskTypeSecurityAudit: {
		"security", "vulnerability", "exploit", "injection", "xss",
		"auth", "permission", "csrf", "owasp", "hardening",
	},
	TaskTypeArchitecture: {
		"architecture", "design", "pattern", "structure", "diagram",
		"system design", "microservice", "api design", "schema",
	},
	TaskTypeResearchIntelligence: {
		"market scan", "competitive analysis", "market intelligence",
		"technology radar", "trend research", "trend analysis",
		"insights", "research report", "competitive landscape",
		"industry analysis", "market research",
	},
	TaskTypeDataHarvesting: {
		"harvest", "data collection", "data source", "data quality",
		"data pipeline", "data ingestion", "source monitoring",
		"data audit", "scrape", "crawl", "extract data",
	},
	TaskTypeSecurityOperations: {
		"threat assessment", "security scan", "compliance audit",
		"security posture", "alert management", "continuous monitoring",
		"threat detection", "incident response", "access review",
		"security monitoring", "vulnerability scan",
	},
}

var simpleIndicators = []string{
	"simple", "quick", "small", "minor", "typo", "rename",
	"one file", "single", "trivial",
}

var complexIndicators = []string{
	"complex", "architecture", "redesign", "migrate", "entire",
	"all files", "multiple files", "large", "comprehensive",
	"across the codebase", "system-wide",
}

var languagePatterns = []struct {
	language string
	patterns []*regexp.Regexp
}{
	{"python", compileAll(`\.py\b`, `\bpython\b`, `\bpytest\b`, `\bdjango\b`, `\bflask\b`)},
	{"javascript", compileAll(`\.js\b`, `\bjavascript\b`, `\bnode\b`, `\breact\b`, `\bnpm\b`)},
	{"typescript", compileAll(`\.ts\b`, `\btypescript\b`, `\bangular\b`, `\.tsx\b`)},
	{"rust", compileAll(`\.rs\b`, `\brust\b`, `\bcargo\b`)},
	{"go", compileAll(`\.go\b`, `\bgolang\b`)},
	{"java", compileAll(`\.java\b`, `\bjava\b`, `\bspring\b`, `\bmaven\b`)},
	{"sql", compileAll(`\bsql\b`, `\bquery\b`, `\bdatabase\b`, `\btable\b`)},
}

var filePathPattern = regexp.MustCompile(`[\w./\\-]+\.(?:py|js|ts|go|rs|java)\b`)

var taskTags = map[TaskType][]string{
	TaskTypeCodeReview:           {"code_review"},
	TaskTypeDebugging:            {"debugging"},
	TaskTypeCodeGeneration:       {"code_generation"},
	TaskTypeRefactoring:          {"refactoring"},
	TaskTypeTesting:              {"testing"},
	TaskTypeDocumentation:        {"documentation"},
	TaskTypeSecurityAudit:        {"security_audit"},
	TaskTypeArchitecture:         {"architecture"},
	TaskTypeResearchIntelligence: {"research_intelligence", "research", "strategic_planning"},
	TaskTypeDataHarvesting:       {"data_harvesting", "data_governance", "operational_planning"},
	TaskTypeSecurityOperations:   {"security_operations", "security_audit", "compliance", "risk_assessment"},
	TaskTypeGeneral:              {"general"},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+p))
	}
	return compiled
}

// TaskAnalyzer is a stateless prompt classifier.
type TaskAnalyzer struct{}

// NewTaskAnalyzer builds an analyzer.
func NewTaskAnalyzer() *TaskAnalyzer {
	return &TaskAnalyzer{}
}

// Analyze classifies one prompt with optional context hints.
func (a *TaskAnalyzer) Analyze(prompt string, taskContext *Context) Analysis {
	if taskContext == nil {
		taskContext = &Context{}
	}
	promptLower := strings.ToLower(prompt)

	taskType, confidence := detectTaskType(promptLower)
	complexity := detectComplexity(promptLower, taskContext)
	languages := detectLanguages(prompt)
	fileScope := estimateFileScope(promptLower, taskContext)

	tags := taskTags[taskType]

	capabilities := make([]string, 0, len(tags)+len(languages)+1)
	capabilities = append(capabilities, tags...)
	capabilities = append(capabilities, languages...)
	if complexity == ComplexityComplex {
		capabilities = append(capabilities, "architecture")
	}

	return Analysis{
		TaskType:              taskType,
		Complexity:            complexity,
		Tags:                  tags,
		DetectedLanguages:     languages,
		FileScope:             fileScope,
		SuggestedCapabilities: capabilities,
		Confidence:            confidence,
	}
}

func detectTaskType(promptLower string) (TaskType, float64) {
	bestType := TaskTypeGeneral
	bestScore := 0
	for _, taskType := range taskTypeOrder {
		score := 0
		for _, keyword := range taskPatterns[taskType] {
			if strings.Contains(promptLower, keyword) {
				score++
			}
		}
		if score > bestScore {
			bestType = taskType
			bestScore = score
		}
	}

	if bestScore == 0 {
		return TaskTypeGeneral, 0.3
	}

	denominator := float64(len(taskPatterns[bestType])) * 0.3
	if denominator < 1 {
		denominator = 1
	}
	confidence := float64(bestScore) / denominator
	if confidence > 1 {
		confidence = 1
	}
	return bestType, confidence
}

func detectComplexity(promptLower string, taskContext *Context) Complexity {
	for _, keyword := range complexIndicators {
		if strings.Contains(promptLower, keyword) {
			return ComplexityComplex
		}
	}
	for _, keyword := range simpleIndicators {
		if strings.Contains(promptLower, keyword) {
			return ComplexitySimple
		}
	}

	fileCount := len(taskContext.Files)
	if fileCount > 5 {
		return ComplexityComplex
	}
	if fileCount > 2 {
		return ComplexityModerate
	}

	if len(promptLower) > 500 {
		return ComplexityComplex
	}
	if len(promptLower) < 100 {
		return ComplexitySimple
	}
	return ComplexityModerate
}

func detectLanguages(prompt string) []string {
	var detected []string
	for _, entry := range languagePatterns {
		for _, pattern := range entry.patterns {
			if pattern.MatchString(prompt) {
				detected = append(detected, entry.language)
				break
			}
		}
	}
	return detected
}

func estimateFileScope(promptLower string, taskContext *Context) int {
	if len(taskContext.Files) > 0 {
		return len(taskContext.Files)
	}

	if containsAny(promptLower, "entire", "all files", "codebase", "whole project") {
		return 50
	}
	if containsAny(promptLower, "multiple files", "several files", "across") {
		return 10
	}
	if containsAny(promptLower, "this file", "single file", "one file") {
		return 1
	}

	paths := filePathPattern.FindAllString(promptLower, -1)
	unique := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		unique[p] = struct{}{}
	}
	if len(unique) > 1 {
		return len(unique)
	}
	return 1
}

func containsAny(s string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
