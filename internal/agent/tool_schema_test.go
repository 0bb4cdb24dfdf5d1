package agent

import (
	"encoding/json"
	"testing"
)

func TestSchemaForStruct(t *testing.T) {
	type params struct {
		Command string `json:"command" jsonschema:"description=Command line to execute"`
		Workdir string `json:"workdir,omitempty"`
	}

	raw := SchemaForStruct(&params{})

	var decoded struct {
		Type       string `json:"type"`
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if decoded.Type != "object" {
		t.Fatalf("expected object schema, got %q", decoded.Type)
	}
	if decoded.Properties["command"].Description != "Command line to execute" {
		t.Fatalf("description lost: %+v", decoded.Properties)
	}
	if len(decoded.Required) != 1 || decoded.Required[0] != "command" {
		t.Fatalf("expected command required, got %v", decoded.Required)
	}
}
