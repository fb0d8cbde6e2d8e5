package dubbing

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	// OutputURLPrefix is the public path generated audio is served from.
	OutputURLPrefix = "/output"

	outputDirectoryMode = 0o755
	outputFileMode      = 0o644
)

// OutputStore persists synthesized audio and returns its public location.
type OutputStore interface {
	Save(ctx context.Context, fileName string, audio []byte) (string, error)
}

// DirectoryOutput writes audio files into a local directory.
type DirectoryOutput struct {
	directory string
	urlPrefix string
}

// NewDirectoryOutput prepares directory and serves files under urlPrefix.
func NewDirectoryOutput(directory string, urlPrefix string) (*DirectoryOutput, error) {
	if strings.TrimSpace(directory) == "" {
		return nil, fmt.Errorf("%w: output directory is empty", ErrInvalidConfig)
	}
	if err := os.MkdirAll(directory, outputDirectoryMode); err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = OutputURLPrefix
	}
	return &DirectoryOutput{directory: directory, urlPrefix: urlPrefix}, nil
}

// Directory returns the backing directory.
func (output *DirectoryOutput) Directory() string {
	return output.directory
}

// Save writes through a temporary file so readers never see partial audio.
func (output *DirectoryOutput) Save(_ context.Context, fileName string, audio []byte) (string, error) {
	base := filepath.Base(fileName)
	if base != fileName || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: output file name %q", ErrInvalidRequest, fileName)
	}
	target := filepath.Join(output.directory, base)
	temp, err := os.CreateTemp(output.directory, base+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("output create: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(audio); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("output write: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("output close: %w", err)
	}
	if err := os.Chmod(tempPath, outputFileMode); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("output chmod: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("output rename: %w", err)
	}
	return path.Join(output.urlPrefix, base), nil
}

func outputFileName(jobID string) string {
	return "dub-" + jobID + ".mp3"
}
