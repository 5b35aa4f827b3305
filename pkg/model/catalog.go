// Package model holds the static model capability catalog and the live
// registry that merges it with models discovered from running backends.
package model

import "strings"

// ToolQuality grades how well a model handles native tool calling.
type ToolQuality string

const (
	ToolQualityNone      ToolQuality = "none"
	ToolQualityBasic     ToolQuality = "basic"
	ToolQualityGood      ToolQuality = "good"
	ToolQualityExcellent ToolQuality = "excellent"
)

// toolQualityScores weight tool calling quality during ranking; the same
// scale is used as a minimum-quality filter.
var toolQualityScores = map[ToolQuality]float64{
	ToolQualityNone:      0,
	ToolQualityBasic:     5,
	ToolQualityGood:      15,
	ToolQualityExcellent: 25,
}

// Profile describes one known model's capabilities.
type Profile struct {
	Name                string      `json:"name"`
	FullName            string      `json:"full_name"`
	Description         string      `json:"description"`
	Params              string      `json:"params"`
	ContextWindow       int         `json:"context_window"`
	SpeedRating         int         `json:"speed_rating"`
	QualityRating       int         `json:"quality_rating"`
	SupportsToolCalling bool        `json:"supports_tool_calling"`
	ToolCallingQuality  ToolQuality `json:"tool_calling_quality"`
	TaskTags            []string    `json:"task_tags"`
}

// Catalog is the static capability catalog, keyed by model name as Ollama
// reports it (base name or name:tag).
var Catalog = map[string]*Profile{
	"qwen2.5:7b": {
		Name:                "qwen2.5",
		FullName:            "Qwen 2.5 7B",
		Description:         "Fast general model with solid native tool calling",
		Params:              "7B",
		ContextWindow:       32768,
		SpeedRating:         8,
		QualityRating:       7,
		SupportsToolCalling: true,
		ToolCallingQuality:  ToolQualityGood,
		TaskTags:            []string{"code_review", "debugging", "refactoring", "testing", "documentation", "architecture"},
	},
	"qwen2.5:14b": {
		Name:                "qwen2.5",
		FullName:            "Qwen 2.5 14B",
		Description:         "Best balance of quality and tool calling support",
		Params:              "14B",
		ContextWindow:       32768,
		SpeedRating:         6,
		QualityRating:       9,
		SupportsToolCalling: true,
		ToolCallingQuality:  ToolQualityExcellent,
		TaskTags:            []string{"code_review", "debugging", "refactoring", "testing", "security_audit", "documentation", "architecture"},
	},
	"devstral:24b": {
		Name:                "devstral",
		FullName:            "Devstral 24B",
		Description:         "Coding-focused model with excellent tool calling",
		Params:              "24B",
		ContextWindow:       32768,
		SpeedRating:         4,
		QualityRating:       9,
		SupportsToolCalling: true,
		ToolCallingQuality:  ToolQualityExcellent,
		TaskTags:            []string{"code_review", "debugging", "refactoring", "testing", "security_audit", "documentation", "architecture"},
	},
	"llama3.1:8b": {
		Name:                "llama3.1",
		FullName:            "Llama 3.1 8B",
		Description:         "Versatile model with a very large context window",
		Params:              "8B",
		ContextWindow:       131072,
		SpeedRating:         8,
		QualityRating:       7,
		SupportsToolCalling: true,
		ToolCallingQuality:  ToolQualityGood,
		TaskTags:            []string{"documentation", "code_review", "debugging", "general"},
	},
	"mistral-nemo:12b": {
		Name:                "mistral-nemo",
		FullName:            "Mistral Nemo 12B",
		Description:         "Compact model with excellent tool calling and huge context",
		Params:              "12B",
		ContextWindow:       128000,
		SpeedRating:         7,
		QualityRating:       8,
		SupportsToolCalling: true,
		ToolCallingQuality:  ToolQualityExcellent,
		TaskTags:            []string{"code_review", "debugging", "documentation", "architecture"},
	},
	"codellama": {
		Name:          "codellama",
		FullName:      "Code Llama",
		Description:   "General-purpose code model, no native tool calling",
		Params:        "7B",
		ContextWindow: 16384,
		SpeedRating:   8,
		QualityRating: 7,
		TaskTags:      []string{"code_generation", "debugging", "code_review", "documentation"},
	},
	"deepseek-coder": {
		Name:          "deepseek-coder",
		FullName:      "DeepSeek Coder",
		Description:   "Code-specialized model, strong at bug detection",
		Params:        "6.7B",
		ContextWindow: 16384,
		SpeedRating:   8,
		QualityRating: 7,
		TaskTags:      []string{"code_generation", "refactoring", "code_review", "testing"},
	},
	"mistral": {
		Name:          "mistral",
		FullName:      "Mistral 7B",
		Description:   "Fast general model, surprisingly good at code",
		Params:        "7B",
		ContextWindow: 8192,
		SpeedRating:   9,
		QualityRating: 7,
		TaskTags:      []string{"documentation", "general"},
	},
	"claude": {
		Name:                "claude",
		FullName:            "Claude",
		Description:         "Hosted frontier model with excellent tool use",
		Params:              "-",
		ContextWindow:       200000,
		SpeedRating:         6,
		QualityRating:       10,
		SupportsToolCalling: true,
		ToolCallingQuality:  ToolQualityExcellent,
		TaskTags:            []string{"code_review", "debugging", "refactoring", "testing", "security_audit", "documentation", "architecture", "general"},
	},
}

// toolCapableNameHints flag tool-capable models absent from the catalog.
var toolCapableNameHints = []string{
	"qwen2.5", "qwen2:", "devstral", "mistral-nemo",
	"llama3.1", "llama3.2", "llama3.3", "command-r",
	"firefunction", "hermes",
}

// ProfileFor looks up a profile by model name, trying the exact name, the
// base name before the tag, and finally a substring match on catalog keys.
func ProfileFor(modelName string) *Profile {
	if profile, ok := Catalog[modelName]; ok {
		return profile
	}

	baseName := strings.SplitN(modelName, ":", 2)[0]
	if profile, ok := Catalog[baseName]; ok {
		return profile
	}

	for key, profile := range Catalog {
		if strings.Contains(key, baseName) {
			return profile
		}
	}
	return nil
}

// NameSuggestsToolSupport reports whether a model name matches a known
// tool-capable family.
func NameSuggestsToolSupport(modelName string) bool {
	nameLower := strings.ToLower(modelName)
	for _, hint := range toolCapableNameHints {
		if strings.Contains(nameLower, hint) {
			return true
		}
	}
	return false
}
