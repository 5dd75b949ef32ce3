package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haoyun/invoice-ocr/internal/common"
)

// BuildFieldSchema returns a JSON-Schema map constraining the AI response:
// one string-or-null property per field, nothing else.
func BuildFieldSchema(fields []Field) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f.Name] = map[string]any{"type": []string{"string", "null"}}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

// ParseAIResponse extracts the JSON object from a model reply (tolerating
// markdown fences and surrounding prose), validates it against the field
// schema, and returns the normalized non-null values. Values the model left
// null, or that fail kind validation, are dropped rather than reported. The
// second return is the number of values the model attempted (non-null before
// kind validation); confidence scoring needs it to see dropped values.
func ParseAIResponse(reply string, fields []Field) (map[string]string, int, error) {
	obj, err := sliceJSONObject(reply)
	if err != nil {
		return nil, 0, fmt.Errorf("%v: %w", err, common.ErrAIService)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return nil, 0, fmt.Errorf("decode ai json: %v: %w", err, common.ErrAIService)
	}

	// Unknown keys are stripped before schema validation; models pad replies
	// with extras and that alone should not void usable fields.
	allowed := make(map[string]Field, len(fields))
	for _, f := range fields {
		allowed[f.Name] = f
	}
	for k := range m {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
		}
	}

	if err := validateAgainstSchema(BuildFieldSchema(fields), m); err != nil {
		return nil, 0, fmt.Errorf("ai response schema: %v: %w", err, common.ErrAIService)
	}

	out := make(map[string]string, len(m))
	attempted := 0
	for name, v := range m {
		s, ok := v.(string)
		if !ok {
			continue // null
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			continue
		}
		attempted++
		if norm, ok := normalizeValue(allowed[name].Kind, s); ok {
			out[name] = norm
		}
	}
	return out, attempted, nil
}

func validateAgainstSchema(schemaMap map[string]any, doc any) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("fields.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("fields.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return schema.Validate(doc)
}

// sliceJSONObject finds the outermost JSON object in a reply that may be
// wrapped in ```json fences or prose.
func sliceJSONObject(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("no json object in ai reply")
	}
	return s[start : end+1], nil
}

// responseConfidence blends how much of the field table the model attempted,
// how much of what it attempted survived kind validation, and whether the
// mandatory fields are covered. attempted counts values before validation,
// so a reply full of malformed dates and amounts scores low even though the
// invalid values themselves were dropped.
func responseConfidence(values map[string]string, attempted int, fields []Field) float64 {
	if len(fields) == 0 {
		return 0
	}
	var mandatory, mandatoryHit int
	for _, f := range fields {
		if f.Mandatory {
			mandatory++
			if _, ok := values[f.Name]; ok {
				mandatoryHit++
			}
		}
	}
	extractionRate := float64(attempted) / float64(len(fields))
	validationRate := 0.0
	if attempted > 0 {
		validationRate = float64(len(values)) / float64(attempted)
	}
	requiredRate := 1.0
	if mandatory > 0 {
		requiredRate = float64(mandatoryHit) / float64(mandatory)
	}
	conf := extractionRate*0.4 + validationRate*0.4 + requiredRate*0.2
	return math.Round(conf*1000) / 1000
}
