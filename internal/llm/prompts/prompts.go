package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var embedded embed.FS

var (
	worksheetTagRegex = regexp.MustCompile(`(?i)</?\s*worksheet-criteria\b[^>]*>`)
	systemTagRegex    = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxCriteriaRunes = 4000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict grades against the criteria literally.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient rewards effort for younger grades.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// WorksheetData holds template data for worksheet grading prompts.
type WorksheetData struct {
	Title    string
	Criteria string
}

// Embedded returns the built-in template filesystem.
func Embedded() fs.FS {
	return embedded
}

// Load parses the worksheet prompt templates from fsys. Only the first call
// has any effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			name := "templates/worksheet_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + name + ": " + err.Error())
				return
			}
			tmpl, err := template.New("worksheet").Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + name + ": " + err.Error())
				return
			}
			templates[v] = tmpl
		}
	})
	return loadErr
}

// BuildWorksheetPrompt builds the system prompt for model-assisted worksheet grading.
func BuildWorksheetPrompt(variant PromptVariant, title, criteria string) (string, error) {
	if err := Load(embedded); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := WorksheetData{
		Title:    sanitize(title),
		Criteria: sanitize(criteria),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sanitize strips tags that could break out of the criteria block and caps length.
func sanitize(s string) string {
	s = worksheetTagRegex.ReplaceAllString(s, "")
	s = systemTagRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if utf8.RuneCountInString(s) > maxCriteriaRunes {
		runes := []rune(s)
		s = string(runes[:maxCriteriaRunes]) + "\n[truncated]"
	}
	return s
}
