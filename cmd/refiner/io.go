package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// cleanPromptJSON strips markdown code fences and any text around the outermost JSON object,
// which is how prompts pasted from chat tools usually arrive.
func cleanPromptJSON(raw string) string {
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```", "")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}

// readPrompt loads a structured prompt from path, or stdin for "-". An empty path means none.
func readPrompt(path string, stdin io.Reader) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading prompt: %w", err)
	}
	return []byte(cleanPromptJSON(string(data))), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
