// Command base64-to-dicom writes the base64 payload of a generated DICOM file
// to disk.
package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mrsinham/dicomcraft/internal/api"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run converts and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("base64-to-dicom", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var fromFile string
	flags.StringVar(&fromFile, "from-file", "", "Read the base64 data (or a generate JSON response) from this file")
	flags.StringVar(&fromFile, "f", "", "Shortcut for --from-file")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "Usage:")
		fmt.Fprintln(stderr, "  base64-to-dicom <BASE64> <OUTPUT>")
		fmt.Fprintln(stderr, "  base64-to-dicom --from-file <FILE> <OUTPUT>")
		fmt.Fprintln(stderr, "\nOptions:")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	var data, output string
	switch rest := flags.Args(); {
	case fromFile != "" && len(rest) == 1:
		output = rest[0]
		text, err := readInput(fromFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		data = text
	case fromFile == "" && len(rest) == 2:
		data, output = rest[0], rest[1]
	default:
		fmt.Fprintln(stderr, "Error: expected <BASE64> <OUTPUT>, or --from-file <FILE> <OUTPUT>")
		flags.Usage()
		return 1
	}

	n, err := convert(data, output)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	abs, _ := filepath.Abs(output)
	fmt.Fprintf(stdout, "✓ Wrote %s (%s)\n", abs, humanize.Bytes(uint64(n)))
	return 0
}

// readInput returns the base64 text of path. A JSON generate response is
// accepted too, in which case its payload field is used.
func readInput(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("input file not found: %s", path)
	}
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(text, "{") {
		return text, nil
	}
	var resp api.GenerationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}
	if resp.Payload() == "" {
		return "", fmt.Errorf("%s has no generated file", path)
	}
	return resp.Payload(), nil
}

func convert(data, output string) (int, error) {
	// Line-wrapped input is common when the payload was copied from a terminal.
	compact := strings.Join(strings.Fields(data), "")
	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return 0, fmt.Errorf("cannot decode base64 data (%d characters): %w", len(compact), err)
	}
	if err := os.WriteFile(output, decoded, 0644); err != nil {
		return 0, fmt.Errorf("cannot write %s: %w", output, err)
	}
	return len(decoded), nil
}
