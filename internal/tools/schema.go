package tools

import "github.com/google/jsonschema-go/jsonschema"

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

// falseSchema rejects any value; assigning it to additionalProperties
// closes the object.
func falseSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}

// objectSchema builds a closed object schema over the given properties.
func objectSchema(props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		AdditionalProperties: falseSchema(),
	}
}

// withCommon adds the arguments every tool accepts: an invocation timeout
// in seconds and an optional edge-location hint.
func withCommon(props map[string]*jsonschema.Schema) map[string]*jsonschema.Schema {
	props["timeout"] = &jsonschema.Schema{
		Type:        "number",
		Minimum:     fptr(1),
		Maximum:     fptr(300),
		Description: "Maximum time to wait for the measurement, in seconds",
	}
	props["serverLocation"] = &jsonschema.Schema{
		Type:        "string",
		MinLength:   iptr(1),
		Description: "Preferred edge server location code",
	}
	return props
}
