package cmd

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// placeholderPattern matches any {name} token in a path template
var placeholderPattern = regexp.MustCompile(`\{[^{}]*\}`)

var knownPlaceholders = map[string]bool{
	"{schema}": true,
	"{table}":  true,
	"{YYYY}":   true,
	"{MM}":     true,
	"{DD}":     true,
	"{HH}":     true,
}

// PathTemplate provides functionality to generate S3 key prefixes from templates
type PathTemplate struct {
	template string
}

// NewPathTemplate creates a new PathTemplate instance
func NewPathTemplate(template string) *PathTemplate {
	return &PathTemplate{template: template}
}

// ValidatePathTemplate rejects templates with placeholders Generate would leave in place
func ValidatePathTemplate(template string) error {
	for _, token := range placeholderPattern.FindAllString(template, -1) {
		if !knownPlaceholders[token] {
			return fmt.Errorf("%w: %s in '%s'", ErrPathTemplateInvalid, token, template)
		}
	}
	return nil
}

// Generate replaces placeholders in the template with actual values.
// Supports: {schema}, {table}, {YYYY}, {MM}, {DD}, {HH}. Leading and trailing
// slashes are dropped so the result can be joined with a file name.
func (pt *PathTemplate) Generate(schema, tableName string, timestamp time.Time) string {
	result := pt.template

	result = strings.ReplaceAll(result, "{schema}", schema)
	result = strings.ReplaceAll(result, "{table}", tableName)

	result = strings.ReplaceAll(result, "{YYYY}", timestamp.Format("2006"))
	result = strings.ReplaceAll(result, "{MM}", timestamp.Format("01"))
	result = strings.ReplaceAll(result, "{DD}", timestamp.Format("02"))
	result = strings.ReplaceAll(result, "{HH}", timestamp.Format("15"))

	return strings.Trim(result, "/")
}
