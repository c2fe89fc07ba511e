package commands

import (
	"encoding/json"
	"fmt"
	"io"
)

func checkOutputFormat() error {
	switch OutputFormat {
	case "", "json", "plain":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use json or plain)", OutputFormat)
	}
}

// emit writes v as indented JSON with --output json and calls human
// otherwise
func emit(w io.Writer, v interface{}, human func(w io.Writer)) error {
	if OutputFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}
