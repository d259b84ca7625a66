package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// wantJSON reports whether the command should print machine output.
func wantJSON(c *cli.Context) bool {
	return c.Bool("json") || c.String("jq") != ""
}

// outputJSON prints v to the app writer. With --jq set, v is filtered and
// every result is printed on its own line.
func outputJSON(c *cli.Context, v interface{}) error {
	w := c.App.Writer
	filter := c.String("jq")
	if filter == "" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	code, err := compileJQ(filter)
	if err != nil {
		return err
	}
	results, err := runJQ(code, v)
	if err != nil {
		return err
	}
	return printJQResults(w, results)
}

// compileJQ parses and compiles a jq expression.
func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// runJQ runs code over v. v is round-tripped through JSON first so that
// typed values (decimals, times) are seen the way the API renders them.
func runJQ(code *gojq.Code, v interface{}) ([]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}

	var results []interface{}
	iter := code.Run(input)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := r.(error); isErr {
			return nil, fmt.Errorf("jq: %w", err)
		}
		results = append(results, r)
	}
	return results, nil
}

// matchesAll reports whether every filter yields a truthy first result on v.
func matchesAll(codes []*gojq.Code, v interface{}) bool {
	for _, code := range codes {
		results, err := runJQ(code, v)
		if err != nil || len(results) == 0 || !isTruthy(results[0]) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printJQResults(w io.Writer, results []interface{}) error {
	for _, r := range results {
		// Bare strings print unquoted, like jq -r
		if s, ok := r.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
	return nil
}
