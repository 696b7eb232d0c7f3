package arith

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/ghosttown/go-mcp"
)

// AddToolName is the name the add tool is registered under.
const AddToolName = "add_tool"

// AddTool describes the add tool.
var AddTool = mcp.Tool{
	Name:         AddToolName,
	Description:  "Adds two numbers and returns their sum",
	InputSchema:  addInputSchema,
	OutputSchema: addOutputSchema,
}

// Add returns a + b. The arguments have already been validated against the input schema.
// Integer addends are summed exactly; anything else is added as float64. The sum is
// returned as a json.Number so its text and structured renderings agree.
func Add(_ context.Context, args json.RawMessage) (any, error) {
	var params AddArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	a, aOK := new(big.Int).SetString(params.A.String(), 10)
	b, bOK := new(big.Int).SetString(params.B.String(), 10)
	if aOK && bOK {
		return json.Number(a.Add(a, b).String()), nil
	}

	fa, err := params.A.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid addend %q: %w", params.A, err)
	}
	fb, err := params.B.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid addend %q: %w", params.B, err)
	}

	sum := fa + fb
	if math.IsInf(sum, 0) {
		return nil, fmt.Errorf("sum of %v and %v overflows", params.A, params.B)
	}

	return json.Number(strconv.FormatFloat(sum, 'f', -1, 64)), nil
}
