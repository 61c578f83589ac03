package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const transcriptFilename = "chat_history.json"

// storedTurn is the on-disk shape: {"role": "...", "parts": [{"text": "..."}]}.
// The multi-part form mirrors the Gemini content format so saved transcripts
// can seed a remote chat session without translation.
type storedTurn struct {
	Role  string       `json:"role"`
	Parts []storedPart `json:"parts"`
}

type storedPart struct {
	Text string `json:"text"`
}

// FileStore keeps one JSON transcript file per project under the data dir.
type FileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dataDir: dataDir}
}

func (s *FileStore) path(projectID string) string {
	return filepath.Join(s.dataDir, projectID, transcriptFilename)
}

func (s *FileStore) Load(_ context.Context, projectID string) ([]Turn, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var stored []storedTurn
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	turns := make([]Turn, 0, len(stored))
	for i, st := range stored {
		role := Role(st.Role)
		if role != RoleUser && role != RoleModel {
			return nil, fmt.Errorf("%w: entry %d has role %q", ErrMalformed, i, st.Role)
		}
		text := ""
		for _, p := range st.Parts {
			text += p.Text
		}
		turns = append(turns, Turn{Role: role, Text: text})
	}
	return turns, nil
}

func (s *FileStore) Save(_ context.Context, projectID string, turns []Turn) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}

	stored := make([]storedTurn, 0, len(turns))
	for _, t := range turns {
		stored = append(stored, storedTurn{
			Role:  string(t.Role),
			Parts: []storedPart{{Text: t.Text}},
		})
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	path := s.path(projectID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	// Write-then-rename so a crash mid-save never corrupts the transcript.
	tmp, err := os.CreateTemp(dir, ".transcript-*")
	if err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
