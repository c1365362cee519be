package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrsinham/dicomcraft/internal/api"
	"github.com/mrsinham/dicomcraft/internal/config"
	"github.com/mrsinham/dicomcraft/internal/dicom"
	"github.com/mrsinham/dicomcraft/internal/server"
	"github.com/mrsinham/dicomcraft/internal/tags"
)

func referenceServer(t *testing.T) *Client {
	t.Helper()
	ts := httptest.NewServer(server.New(config.Default().Server).Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL + api.DefaultBasePath)
}

func sampleBytes(t *testing.T) []byte {
	t.Helper()
	req, err := dicom.Sample(dicom.SampleOptions{Modality: "CT", Width: 8, Height: 8, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	data, err := dicom.NewGenerator().Build(req)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestAnalyzeGenerate(t *testing.T) {
	c := referenceServer(t)
	ctx := context.Background()

	ar, err := c.Analyze(ctx, "sample.dcm", sampleBytes(t))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if ar.AnalysisStatus != api.StatusSuccess || len(ar.Tags) == 0 {
		t.Fatalf("analysis = %+v", ar)
	}

	session := tags.NewEditSession(ar.Tags)
	if err := session.Set("(0010,0010)", tags.String("Edited^Name")); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	gr, err := c.Generate(ctx, api.ToGenerationRequest(session.Current(), ar.PixelData))
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	data, err := gr.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	again, err := c.Analyze(ctx, gr.SaveName(), data)
	if err != nil {
		t.Fatalf("second Analyze returned error: %v", err)
	}
	for _, n := range again.Tags {
		if n.ID == "(0010,0010)" && !n.Value.Equal(tags.String("Edited^Name")) {
			t.Errorf("PatientName = %v", n.Value)
		}
	}

	msg, err := c.Health(ctx)
	if err != nil || msg != server.HealthMessage {
		t.Errorf("Health = %q, %v", msg, err)
	}
}

func TestAnalyze_ServiceError(t *testing.T) {
	c := referenceServer(t)
	_, err := c.Analyze(context.Background(), "junk.dcm", []byte(strings.Repeat("j", 300)))
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
	if se.StatusCode != http.StatusBadRequest || se.Message == "" {
		t.Errorf("ServiceError = %+v", se)
	}
	if !IsServiceError(err) || IsNetworkError(err) {
		t.Error("IsServiceError/IsNetworkError disagree with the error type")
	}

	if _, err := c.Analyze(context.Background(), "empty.dcm", nil); !errors.Is(err, ErrEmptyUpload) {
		t.Errorf("empty upload error = %v, want %v", err, ErrEmptyUpload)
	}
}

func TestGenerate_ServiceError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"fileName":"generated.dcm","generationStatus":"ERROR","errorMessage":"boom","fileSize":0}`)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Generate(context.Background(), api.GenerationRequest{})
	if err == nil || err.Error() != "boom" {
		t.Errorf("error = %v, want the service message verbatim", err)
	}
}

func TestHTTPErrorWithoutJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer ts.Close()

	c := New(ts.URL)
	_, err := c.Generate(context.Background(), api.GenerationRequest{})
	var se *ServiceError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(se.Message, "upstream unavailable") {
		t.Errorf("message = %q", se.Message)
	}

	if _, err := c.Health(context.Background()); !IsServiceError(err) {
		t.Errorf("Health error = %v, want ServiceError", err)
	}
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := New(url).Health(context.Background())
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.Op != "health" {
		t.Errorf("error = %v, want *NetworkError", err)
	}
}

func TestTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	_, err := New(ts.URL, WithTimeout(20*time.Millisecond)).Health(context.Background())
	if !IsNetworkError(err) {
		t.Errorf("error = %v, want NetworkError", err)
	}
}

func TestAnalyze_CollapsesDuplicates(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"fileName":"a.dcm","tags":[],"pixelData":{},"analysisStatus":"SUCCESS"}`)
	}))
	defer ts.Close()

	c := New(ts.URL)
	data := []byte("same bytes")
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Analyze(context.Background(), "a.dcm", data); err != nil {
				t.Errorf("Analyze returned error: %v", err)
			}
		}()
	}
	// Let the goroutines join the in-flight call before answering.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestSaver(t *testing.T) {
	payload := []byte("DICM payload")
	resp := api.GenerationResponse{
		FileName:             "dicom_1.dcm",
		GeneratedDicomBase64: base64.StdEncoding.EncodeToString(payload),
		GenerationStatus:     api.StatusSuccess,
	}
	ctx := context.Background()

	t.Run("local", func(t *testing.T) {
		s, err := OpenSaver(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()
		path := filepath.Join(t.TempDir(), "out", "edited.dcm")
		where, n, err := s.Save(ctx, resp, path)
		if err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
		if where != path || n != len(payload) {
			t.Errorf("Save = %q, %d", where, n)
		}
		got, _ := os.ReadFile(path)
		if string(got) != string(payload) {
			t.Errorf("file content = %q", got)
		}
	})

	t.Run("bucket", func(t *testing.T) {
		s, err := OpenSaver(ctx, "mem://")
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()
		where, _, err := s.Save(ctx, resp, "")
		if err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
		if where != "dicom_1.dcm" {
			t.Errorf("key = %q, want server file name", where)
		}
		got, err := s.Bucket().ReadAll(ctx, where)
		if err != nil || string(got) != string(payload) {
			t.Errorf("bucket content = %q, %v", got, err)
		}
	})

	t.Run("server name stays in the working directory", func(t *testing.T) {
		root := t.TempDir()
		work := filepath.Join(root, "work")
		if err := os.Mkdir(work, 0755); err != nil {
			t.Fatal(err)
		}
		t.Chdir(work)

		s, _ := OpenSaver(ctx, "")
		evil := resp
		evil.FileName = "../escaped/evil.dcm"
		where, _, err := s.Save(ctx, evil, "")
		if err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
		if where != "evil.dcm" {
			t.Errorf("where = %q, want evil.dcm", where)
		}
		if _, err := os.Stat(filepath.Join(root, "escaped")); !os.IsNotExist(err) {
			t.Error("server-supplied name created a directory outside the working directory")
		}
		if _, err := os.Stat(filepath.Join(work, "evil.dcm")); err != nil {
			t.Errorf("file not written in the working directory: %v", err)
		}
	})

	t.Run("server name in bucket", func(t *testing.T) {
		s, _ := OpenSaver(ctx, "mem://")
		defer s.Close()
		evil := resp
		evil.FileName = "/etc/../../x/..\\y.dcm"
		where, _, err := s.Save(ctx, evil, "")
		if err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
		if where != "y.dcm" {
			t.Errorf("key = %q, want y.dcm", where)
		}
	})

	t.Run("server file name", func(t *testing.T) {
		tests := map[string]string{
			"dicom_1.dcm":  "dicom_1.dcm",
			"a/b/c.dcm":    "c.dcm",
			"..":           api.DefaultFileName,
			"/":            api.DefaultFileName,
			"dir\\win.dcm": "win.dcm",
		}
		for in, want := range tests {
			if got := serverFileName(in); got != want {
				t.Errorf("serverFileName(%q) = %q, want %q", in, got, want)
			}
		}
	})

	t.Run("bad payload", func(t *testing.T) {
		s, _ := OpenSaver(ctx, "")
		bad := resp
		bad.GeneratedDicomBase64 = "***"
		if _, _, err := s.Save(ctx, bad, filepath.Join(t.TempDir(), "x.dcm")); err == nil {
			t.Error("Save should fail on an undecodable payload")
		}
	})

	if _, err := OpenSaver(ctx, "nosuchscheme://bucket"); err == nil {
		t.Error("OpenSaver should fail on an unknown scheme")
	}
}
