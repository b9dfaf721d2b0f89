package agent

// Output schemas for the three agents. Schemas are deliberately permissive
// about extra fields (LLMs add commentary keys) but strict about the shape
// the orchestrator depends on.

const buildGraphSchemaDoc = `{
  "type": "object",
  "required": ["tasks"],
  "properties": {
    "tasks": {
      "type": "array",
      "minItems": 1,
      "maxItems": 15,
      "items": {
        "type": "object",
        "required": ["id", "title", "goal", "acceptance_criteria"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "title": {"type": "string", "minLength": 1},
          "goal": {"type": "string"},
          "acceptance_criteria": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string"}
          },
          "depends_on": {"type": "array", "items": {"type": "string"}},
          "expected_files": {
            "type": "array",
            "maxItems": 5,
            "items": {"type": "string"}
          },
          "status": {"type": "string"}
        }
      }
    }
  }
}`

const patchSetSchemaDoc = `{
  "type": "object",
  "required": ["task_id", "diff", "touched_files"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "diff": {"type": "string", "minLength": 1},
    "touched_files": {
      "type": "array",
      "minItems": 1,
      "maxItems": 5,
      "items": {"type": "string"}
    },
    "notes": {"type": "string"}
  }
}`

const reviewSchemaDoc = `{
  "type": "object",
  "required": ["decision"],
  "properties": {
    "decision": {"type": "string", "enum": ["approve", "request_changes"]},
    "reasons": {"type": "array", "items": {"type": "string"}},
    "required_fixes": {"type": "array", "items": {"type": "string"}},
    "summary": {"type": "string"}
  }
}`
