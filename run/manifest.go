package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360studio/semflow/artifact"
)

// WriteManifest writes manifest.json into the run's artifact root,
// summarizing the artifacts index and the run summary. The manifest is a
// run-level output, not a step emission, so it bypasses the store's
// catalogue.
func WriteManifest(artifactRoot string, s *Summary) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(artifactRoot, artifact.ManifestName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
