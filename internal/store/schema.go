package store

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// policyDocumentSchema constrains policy documents accepted over the
// admin API. Only validated documents reach the agent_policies table.
const policyDocumentSchema = `{
	"type": "object",
	"properties": {
		"mode": {
			"type": "string",
			"enum": ["unrestricted", "allowlist", "denylist"]
		},
		"allowed": {
			"type": "array",
			"items": {"type": "string"}
		},
		"denied": {
			"type": "array",
			"items": {"type": "string"}
		},
		"always_require_approval": {
			"type": "array",
			"items": {"type": "string"}
		},
		"require_approval_for_unlisted": {"type": "boolean"},
		"max_tool_calls_per_turn": {
			"type": ["integer", "null"],
			"minimum": 0
		},
		"service_access": {
			"type": "object",
			"additionalProperties": {
				"type": "string",
				"enum": ["none", "read", "write", "full"]
			}
		}
	},
	"additionalProperties": false
}`

var policySchema = mustCompilePolicySchema()

func mustCompilePolicySchema() *jsonschema.Schema {
	var doc map[string]any
	if err := json.Unmarshal([]byte(policyDocumentSchema), &doc); err != nil {
		panic(fmt.Sprintf("policy document schema: %v", err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("agent_policy.json", doc); err != nil {
		panic(fmt.Sprintf("policy document schema: %v", err))
	}
	sch, err := compiler.Compile("agent_policy.json")
	if err != nil {
		panic(fmt.Sprintf("policy document schema: %v", err))
	}
	return sch
}

// ValidatePolicyDocument checks a raw policy document against the schema.
// Unknown fields, unknown modes or access levels, and negative call caps
// are all rejected.
func ValidatePolicyDocument(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("ValidatePolicyDocument: %w", err)
	}
	if err := policySchema.Validate(doc); err != nil {
		return fmt.Errorf("ValidatePolicyDocument: %w", err)
	}
	return nil
}
