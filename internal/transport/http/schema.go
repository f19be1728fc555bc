package httptransport

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/submission.schema.json
var submissionSchemaJSON []byte

const submissionSchemaURL = "submission.schema.json"

func compileSubmissionSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	if err := compiler.AddResource(submissionSchemaURL, bytes.NewReader(submissionSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(submissionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateAgainstSchema decodes raw with UseNumber so integer checks see the
// literal, then validates. The returned message names the first failing field.
func validateAgainstSchema(schema *jsonschema.Schema, raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return "request body is not valid JSON", err
	}
	if dec.More() {
		return "request body must hold a single JSON object", errors.New("trailing data")
	}
	if err := schema.Validate(payload); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for len(ve.Causes) > 0 {
				ve = ve.Causes[0]
			}
			loc := ve.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			return fmt.Sprintf("%s: %s", loc, ve.Message), err
		}
		return "request does not match schema", err
	}
	return "", nil
}
