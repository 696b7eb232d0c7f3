// Package arith provides the arithmetic tools served by ghosttown.
package arith

import (
	"fmt"

	"github.com/ghosttown/go-mcp"
)

// Register adds the arithmetic tools to reg.
func Register(reg *mcp.Registry) error {
	if err := reg.Register(AddTool, mcp.ToolHandlerFunc(Add)); err != nil {
		return fmt.Errorf("failed to register %s: %w", AddToolName, err)
	}
	return nil
}

// NewRegistry returns a registry holding only the arithmetic tools.
func NewRegistry() (*mcp.Registry, error) {
	reg := mcp.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
