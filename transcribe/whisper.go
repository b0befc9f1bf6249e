// Package transcribe runs speech-to-text through the whisper-ctranslate2
// command line tool, preferring GPU execution with a one-shot CPU fallback
// when the CUDA runtime fails.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"tubescribe/media"
)

// Result holds one finished transcription.
type Result struct {
	Segments []media.Segment `json:"segments"`
	Language string          `json:"language"`
}

// Engine is the transcription contract the pipeline depends on.
type Engine interface {
	Transcribe(ctx context.Context, audioPath, outDir string) (*Result, error)
}

// Whisper shells out to whisper-ctranslate2. The device starts on CUDA and
// drops to CPU permanently after the first device fault.
type Whisper struct {
	bin      string
	model    string
	language string
	logger   *slog.Logger

	mu          sync.Mutex
	device      string
	computeType string

	// run is swappable for tests.
	run func(ctx context.Context, audioPath, outDir, device, computeType string) (*Result, error)
}

func NewWhisper(bin, model, language string, logger *slog.Logger) (*Whisper, error) {
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("whisper binary not found or not in PATH: %s", bin)
	}
	w := &Whisper{
		bin:         bin,
		model:       model,
		language:    language,
		logger:      logger,
		device:      "cuda",
		computeType: "float16",
	}
	w.run = w.runCLI
	return w, nil
}

// Transcribe converts the audio file to timed segments. On a CUDA or cuBLAS
// failure it reloads on CPU and retries exactly once; a CPU failure is final.
func (w *Whisper) Transcribe(ctx context.Context, audioPath, outDir string) (*Result, error) {
	device, computeType := w.currentDevice()

	res, err := w.run(ctx, audioPath, outDir, device, computeType)
	if err == nil {
		return res, nil
	}
	if device == "cpu" || !IsDeviceFault(err) {
		return nil, err
	}

	w.logger.Warn("gpu transcription failed, falling back to cpu", "error", err)
	w.fallbackToCPU()

	res, err = w.run(ctx, audioPath, outDir, "cpu", "int8")
	if err != nil {
		return nil, fmt.Errorf("cpu fallback transcription failed: %w", err)
	}
	return res, nil
}

func (w *Whisper) currentDevice() (string, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.device, w.computeType
}

func (w *Whisper) fallbackToCPU() {
	w.mu.Lock()
	w.device = "cpu"
	w.computeType = "int8"
	w.mu.Unlock()
}

func (w *Whisper) runCLI(ctx context.Context, audioPath, outDir, device, computeType string) (*Result, error) {
	args := []string{
		audioPath,
		"--model", w.model,
		"--device", device,
		"--compute_type", computeType,
		"--output_format", "json",
		"--output_dir", outDir,
	}
	if w.language != "" {
		args = append(args, "--language", w.language)
	}

	cmd := exec.CommandContext(ctx, w.bin, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	w.logger.Info("transcribing", "audio", audioPath, "device", device, "model", w.model)

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", w.bin, err, tailOf(output.String()))
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	jsonPath := filepath.Join(outDir, stem+".json")
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("transcription output %s not readable: %w", jsonPath, err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse transcription output: %w", err)
	}
	if len(res.Segments) == 0 {
		return nil, fmt.Errorf("transcription of %s produced no segments", audioPath)
	}
	return &res, nil
}

// IsDeviceFault reports whether err looks like a GPU runtime failure rather
// than a problem with the audio itself.
func IsDeviceFault(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cuda") || strings.Contains(msg, "cublas")
}

func tailOf(s string) string {
	s = strings.TrimSpace(s)
	const max = 500
	if len(s) > max {
		return s[len(s)-max:]
	}
	return s
}
