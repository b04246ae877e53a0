package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// printJSON writes v to stdout, indented.
func printJSON(v any) {
	writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(w, `{"status":"error","error":%q}`+"\n", err.Error())
	}
}

// printError reports a failed one-shot command on stdout.
func printError(err error) {
	printJSON(map[string]string{"status": "error", "error": err.Error()})
}
