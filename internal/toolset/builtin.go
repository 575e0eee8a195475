package toolset

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// BuiltinCatalog returns a small demo catalog so the CLI works end to end
// without external services. Real deployments register their own toolsets.
func BuiltinCatalog() *Catalog {
	c := NewCatalog()
	_ = c.Register("clock", []Tool{{
		Name:        "now",
		Description: "Returns the current UTC time in RFC3339 format",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
	}})
	_ = c.Register("calc", []Tool{{
		Name:        "add",
		Description: "Adds the numbers in the 'values' argument",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			values, ok := args["values"].([]interface{})
			if !ok {
				return "", fmt.Errorf("calc.add: 'values' must be a list of numbers")
			}
			sum := 0.0
			for _, v := range values {
				f, ok := v.(float64)
				if !ok {
					return "", fmt.Errorf("calc.add: %v is not a number", v)
				}
				sum += f
			}
			return strconv.FormatFloat(sum, 'f', -1, 64), nil
		},
	}})
	_ = c.Register("reference", []Tool{{
		Name:        "lookup",
		Description: "Looks up a key in a small reference table (case sensitive)",
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			key, _ := args["key"].(string)
			table := map[string]string{
				"capital:France":  "Paris",
				"capital:Japan":   "Tokyo",
				"capital:Germany": "Berlin",
			}
			if v, ok := table[key]; ok {
				return v, nil
			}
			return "", fmt.Errorf("reference.lookup: %w: no entry for %q", ErrUnresolved, key)
		},
	}})
	return c
}
