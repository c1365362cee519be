package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

// version is set at build time via -ldflags
var version = "dev"

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"serve", "Run the reference analyze/generate service", runServe},
	{"analyze", "Analyze a DICOM file and print its tags", runAnalyze},
	{"render", "Render the pixel data of a DICOM file to an image", runRender},
	{"edit", "Edit the tags of a DICOM file interactively", runEdit},
	{"export", "Apply tag edits to a DICOM file and save the result", runExport},
	{"health", "Check that the service is reachable", runHealth},
	{"sample", "Write a synthetic DICOM file to try the editor on", runSample},
	{"generate", "Build a DICOM file from a generation request, offline", runGenerate},
	{"version", "Show version", runVersion},
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printHelp()
		os.Exit(0)
	}
	if name == "--version" {
		name = "version"
	}

	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(os.Args[2:])
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", name)
	printHelp()
	os.Exit(1)
}

func runVersion(args []string) error {
	fmt.Printf("dicomcraft %s\n", version)
	return nil
}

func printHelp() {
	fmt.Println("dicomcraft")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("Inspect, edit and regenerate DICOM files through an analyze/generate service.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dicomcraft <command> [options] [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, c := range commands {
		fmt.Printf("  %-10s %s\n", c.name, c.summary)
	}
	fmt.Println()
	fmt.Println("Common options:")
	fmt.Println("  --config <FILE>       Load configuration from a YAML or TOML file")
	fmt.Println("  --url <URL>           Service base URL (default: http://localhost:8080/api/dicom)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Start the reference service")
	fmt.Println("  dicomcraft serve --addr :8080")
	fmt.Println()
	fmt.Println("  # Create a CT sample and list its tags")
	fmt.Println("  dicomcraft sample -o ct.dcm --modality CT")
	fmt.Println("  dicomcraft analyze ct.dcm")
	fmt.Println()
	fmt.Println("  # Render with the bone window")
	fmt.Println("  dicomcraft render ct.dcm -o ct.png --window preset:BONE")
	fmt.Println()
	fmt.Println("  # Rename the patient and save the edited file")
	fmt.Println("  dicomcraft export ct.dcm --set \"PatientName=Doe^John\" -o edited.dcm")
	fmt.Println()
	fmt.Println("  # Edit interactively")
	fmt.Println("  dicomcraft edit ct.dcm")
	fmt.Println()
	fmt.Println("Run 'dicomcraft <command> -h' for the options of a command.")
}
