package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// printJSON pretty-prints API results for humans and scripts alike.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
	}
}
