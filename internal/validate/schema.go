// Package validate checks record payloads arriving off the bus against
// embedded JSON Schemas before they reach the snapshot. Enum-valued fields
// are deliberately left as open strings; unknown values get safe-default
// treatment downstream instead of dropping the whole record.
package validate

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/detection_record.json
var detectionSchemaJSON string

//go:embed schemas/anomaly_event.json
var anomalySchemaJSON string

// Validator validates detection and anomaly payloads.
type Validator struct {
	detection *jsonschema.Schema
	anomaly   *jsonschema.Schema
	logger    *slog.Logger
}

// NewValidator compiles the embedded schemas.
func NewValidator(logger *slog.Logger) (*Validator, error) {
	detection, err := compile("detection_record.json", detectionSchemaJSON)
	if err != nil {
		return nil, err
	}
	anomaly, err := compile("anomaly_event.json", anomalySchemaJSON)
	if err != nil {
		return nil, err
	}

	return &Validator{
		detection: detection,
		anomaly:   anomaly,
		logger:    logger,
	}, nil
}

func compile(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// Detection validates a DetectionRecord payload.
func (v *Validator) Detection(data []byte) error {
	return v.check(v.detection, "detection", data)
}

// Anomaly validates an AnomalyEvent payload.
func (v *Validator) Anomaly(data []byte) error {
	return v.check(v.anomaly, "anomaly", data)
}

func (v *Validator) check(schema *jsonschema.Schema, kind string, data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", kind, err)
	}
	if err := schema.Validate(doc); err != nil {
		v.logger.Debug("Payload failed validation", "kind", kind, "error", err)
		return fmt.Errorf("validate %s payload: %w", kind, err)
	}
	return nil
}
