// Package template renders step templates against an execution's context and the
// current contact.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/drip/pkg/models"
)

var ErrTemplate = errors.New("template error")

// Data builds the template data of an execution. The contact is read live so messages
// reflect the contact at send time; trigger payload and workflow variables come from the
// snapshot taken at start.
func Data(execution *models.Execution, contact *models.Contact) map[string]any {
	data := map[string]any{
		models.ContextTrigger:   map[string]any{},
		models.ContextVariables: map[string]any{},
		"execution": map[string]any{
			"id":          execution.ID,
			"workflow_id": execution.WorkflowID,
			"step_id":     execution.CurrentStepID,
		},
	}

	for key, value := range execution.Context {
		data[key] = value
	}

	if contact != nil {
		data[models.ContextContact] = contact.ToMap()
	}

	data["vars"] = data[models.ContextVariables]

	return data
}

// RenderString executes templateStr against data. Referencing a missing key fails.
func RenderString(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.
		New("step").
		Option("missingkey=error").
		Funcs(funcs()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse template '%s': %w", ErrTemplate, templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to execute template '%s': %w", ErrTemplate, templateStr, err)
	}

	return buf.String(), nil
}

// RenderMap renders every value of a string map.
func RenderMap(values map[string]string, data any) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	rendered := make(map[string]string, len(values))

	for key, value := range values {
		out, err := RenderString(value, data)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}

// Render executes templateStr and converts the output into a JSON value, number or
// boolean when it parses as one.
func Render(templateStr string, data any) (any, error) {
	rendered, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse json '%s': %w", ErrTemplate, templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"default": func(fallback, value any) any {
			if value == nil || value == "" {
				return fallback
			}

			return value
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
		"join": func(sep string, values []string) string {
			return strings.Join(values, sep)
		},
		"hasTag": func(tags []string, tag string) bool {
			for _, t := range tags {
				if t == tag {
					return true
				}
			}

			return false
		},
	}
}
