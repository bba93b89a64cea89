package stt

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
)

// EnsureModelFile downloads url to dest if dest is missing. It streams to
// a ".tmp" sibling and atomically renames on completion so a partial
// download never appears at the final path, logging progress at >=5%
// increments.
func EnsureModelFile(dest, url string, logger orchestrator.Logger) error {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model: HTTP %d", resp.StatusCode)
	}

	tmpPath := dest + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}

	total := resp.ContentLength
	var written int64
	lastPct := -5
	buf := make([]byte, 256*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := tmp.Write(buf[:n]); writeErr != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("write temp model file: %w", writeErr)
			}
			written += int64(n)
			if total > 0 {
				pct := int(written * 100 / total)
				if pct >= lastPct+5 {
					logger.Info("model download progress", "dest", dest, "percent", pct)
					lastPct = pct
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("read model download stream: %w", readErr)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp model file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize model file: %w", err)
	}
	logger.Info("model download complete", "dest", dest, "bytes", written)
	return nil
}
