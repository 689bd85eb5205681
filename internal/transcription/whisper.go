package transcription

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WhisperProvider spawns one whisper CLI process per job.
// The CLI contract is fixed: positional audio path, model size, text output
// into an output directory, language, and the transcribe task. The transcript
// is read from a sibling file in the output directory sharing the audio
// file's base name with a .txt extension.
type WhisperProvider struct {
	binary    string
	modelSize string
	outputDir string
	language  string
}

func newWhisperProvider(cfg WhisperConfig, language string) (*WhisperProvider, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("whisper binary cannot be empty")
	}

	if cfg.ModelSize == "" {
		return nil, fmt.Errorf("whisper model size cannot be empty")
	}

	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("whisper output directory cannot be empty")
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create whisper output directory: %w", err)
	}

	return &WhisperProvider{
		binary:    cfg.Binary,
		modelSize: cfg.ModelSize,
		outputDir: cfg.OutputDir,
		language:  language,
	}, nil
}

// Transcribe runs the whisper CLI on the audio file and reads the transcript
func (p *WhisperProvider) Transcribe(ctx context.Context, req Request) (string, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		req.AudioPath,
		"--model", p.modelSize,
		"--output_format", "txt",
		"--output_dir", p.outputDir,
		"--language", p.language,
		"--task", "transcribe",
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("whisper process failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return p.readTranscript(req.AudioPath)
}

// readTranscript resolves the transcript file for an audio path.
// A missing transcript after a clean exit is valid and yields empty text.
func (p *WhisperProvider) readTranscript(audioPath string) (string, error) {
	data, err := os.ReadFile(p.transcriptPath(audioPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read whisper transcript: %w", err)
	}

	return string(data), nil
}

// transcriptPath returns the expected transcript location for an audio file
func (p *WhisperProvider) transcriptPath(audioPath string) string {
	base := filepath.Base(audioPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(p.outputDir, base+".txt")
}

// Name returns the provider name for logging
func (p *WhisperProvider) Name() string {
	return "whisper"
}
