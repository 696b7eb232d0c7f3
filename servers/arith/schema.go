package arith

import "encoding/json"

// AddArgs is the arguments for the add_tool tool. The addends keep their literal form so
// integers of any size are added exactly.
type AddArgs struct {
	A json.Number `json:"a"`
	B json.Number `json:"b"`
}

var addInputSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "a": { "type": "number", "description": "First addend" },
      "b": { "type": "number", "description": "Second addend" }
    },
    "required": ["a", "b"]
  }
`)

var addOutputSchema = []byte(`
  {
    "type": "object",
    "properties": {
      "value": { "type": "number" }
    },
    "required": ["value"]
  }
`)
