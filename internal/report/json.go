package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// WriteJSON writes result as indented JSON.
func WriteJSON(w io.Writer, result *Result) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// WriteJSONFile writes result as indented JSON to path.
func WriteJSONFile(result *Result, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create result file: %w", err)
	}
	if err := WriteJSON(f, result); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	return nil
}
