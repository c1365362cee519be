package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/dicom"
)

// testContext holds state for a single scenario
type testContext struct {
	tmpDir   string
	exitCode int
	output   string
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &testContext{}

	sc.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tmpDir, err := os.MkdirTemp("", "base64-to-dicom-*")
		if err != nil {
			return ctx, err
		}
		tc.tmpDir = tmpDir
		return ctx, nil
	})

	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if tc.tmpDir != "" {
			os.RemoveAll(tc.tmpDir)
		}
		return ctx, nil
	})

	sc.Step(`^a sample CT file encoded as base64 in "([^"]*)"$`, tc.sampleEncodedIn)
	sc.Step(`^a generation response for a sample CT file in "([^"]*)"$`, tc.generationResponseIn)
	sc.Step(`^I run base64-to-dicom with "([^"]*)"$`, tc.iRunWith)
	sc.Step(`^the exit code should be (\d+)$`, tc.theExitCodeShouldBe)
	sc.Step(`^the output should contain "([^"]*)"$`, tc.theOutputShouldContain)
	sc.Step(`^"([^"]*)" should have (\d+) bytes$`, tc.shouldHaveBytes)
	sc.Step(`^"([^"]*)" should not exist$`, tc.shouldNotExist)
	sc.Step(`^"([^"]*)" should be a DICOM file with "([^"]*)" set to "([^"]*)"$`, tc.shouldBeDICOMWith)
}

func (tc *testContext) path(p string) string {
	return strings.ReplaceAll(p, "{tmpdir}", tc.tmpDir)
}

func sampleFile() ([]byte, error) {
	req, err := dicom.Sample(dicom.SampleOptions{Modality: "CT", Width: 8, Height: 8, Seed: 5, PatientName: "Doe^Jane"})
	if err != nil {
		return nil, err
	}
	return dicom.NewGenerator().Build(req)
}

func (tc *testContext) sampleEncodedIn(path string) error {
	data, err := sampleFile()
	if err != nil {
		return err
	}
	// Wrap at 76 columns like base64(1) does.
	text := base64.StdEncoding.EncodeToString(data)
	var wrapped strings.Builder
	for len(text) > 76 {
		wrapped.WriteString(text[:76] + "\n")
		text = text[76:]
	}
	wrapped.WriteString(text + "\n")
	return os.WriteFile(tc.path(path), []byte(wrapped.String()), 0644)
}

func (tc *testContext) generationResponseIn(path string) error {
	data, err := sampleFile()
	if err != nil {
		return err
	}
	body, err := json.Marshal(api.GenerationResponse{
		FileName:             "dicom_1.dcm",
		GeneratedDicomBase64: base64.StdEncoding.EncodeToString(data),
		GenerationStatus:     api.StatusSuccess,
		FileSize:             int64(len(data)),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(tc.path(path), body, 0644)
}

func (tc *testContext) iRunWith(args string) error {
	var output bytes.Buffer
	tc.exitCode = run(splitArgs(tc.path(args)), &output, &output)
	tc.output = output.String()
	return nil
}

func (tc *testContext) theExitCodeShouldBe(expected int) error {
	if tc.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nOutput:\n%s", expected, tc.exitCode, tc.output)
	}
	return nil
}

func (tc *testContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(tc.output, expected) {
		return fmt.Errorf("output does not contain %q\nOutput:\n%s", expected, tc.output)
	}
	return nil
}

func (tc *testContext) shouldHaveBytes(path string, n int) error {
	info, err := os.Stat(tc.path(path))
	if err != nil {
		return err
	}
	if info.Size() != int64(n) {
		return fmt.Errorf("%s has %d bytes, want %d", path, info.Size(), n)
	}
	return nil
}

func (tc *testContext) shouldNotExist(path string) error {
	if _, err := os.Stat(tc.path(path)); !os.IsNotExist(err) {
		return fmt.Errorf("path exists: %s", path)
	}
	return nil
}

func (tc *testContext) shouldBeDICOMWith(path, id, value string) error {
	data, err := os.ReadFile(tc.path(path))
	if err != nil {
		return err
	}
	resp := dicom.NewAnalyzer().Analyze(bytes.NewReader(data), int64(len(data)), path)
	if resp.AnalysisStatus != api.StatusSuccess {
		return fmt.Errorf("%s is not a DICOM file: %s", path, resp.ErrorMessage)
	}
	for _, n := range resp.Tags {
		if n.ID == id {
			if got := n.Value.Text(); got != value {
				return fmt.Errorf("%s = %q, want %q", id, got, value)
			}
			return nil
		}
	}
	return fmt.Errorf("%s has no tag %s", path, id)
}

// splitArgs splits a command line string into arguments
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuote := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}
