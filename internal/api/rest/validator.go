package rest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/engrave-job-v1.json
var engraveJobSchemaJSON string

type requestValidator struct {
	engraveJob *jsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("engrave-job-v1.json",
		strings.NewReader(engraveJobSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("engrave-job-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &requestValidator{engraveJob: schema}, nil
}

func (v *requestValidator) validateEngraveJob(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.engraveJob.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}
