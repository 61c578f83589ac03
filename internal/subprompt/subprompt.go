package subprompt

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

const subpromptsFilename = "subprompts.json"

// Subprompt is one reusable prompt fragment. Model, when set, overrides the
// project model for exchanges that include this fragment; ReferenceTags pull
// matching game records into the composed prompt.
type Subprompt struct {
	Prompt        string   `json:"prompt"`
	Model         string   `json:"model,omitempty"`
	ReferenceTags []string `json:"reference_tags,omitempty"`
}

// Collection groups subprompts by category, then by name.
type Collection map[string]map[string]Subprompt

// Store reads and writes one subprompts.json per project.
type Store struct {
	dataDir string
}

func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) path(projectID string) string {
	return filepath.Join(s.dataDir, projectID, subpromptsFilename)
}

// Load returns a project's subprompts, creating an empty file when the
// project has none. A malformed file degrades to an empty collection with
// the condition logged.
func (s *Store) Load(projectID string) (Collection, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			empty := Collection{}
			if err := s.Save(projectID, empty); err != nil {
				return nil, err
			}
			return empty, nil
		}
		return nil, fmt.Errorf("read subprompts: %w", err)
	}

	var collection Collection
	if err := json.Unmarshal(data, &collection); err != nil {
		log.Printf("subprompt: file for project %q is malformed, starting empty: %v", projectID, err)
		return Collection{}, nil
	}
	if collection == nil {
		collection = Collection{}
	}
	return collection, nil
}

// Save writes a project's full subprompt collection.
func (s *Store) Save(projectID string, collection Collection) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}

	data, err := json.MarshalIndent(collection, "", "  ")
	if err != nil {
		return fmt.Errorf("encode subprompts: %w", err)
	}

	path := s.path(projectID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".subprompts-*")
	if err != nil {
		return fmt.Errorf("write subprompts: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write subprompts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write subprompts: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write subprompts: %w", err)
	}
	return nil
}

// Set stores one subprompt under category/name.
func (s *Store) Set(projectID, category, name string, sp Subprompt) error {
	if category == "" || name == "" {
		return fmt.Errorf("category and name are required")
	}

	collection, err := s.Load(projectID)
	if err != nil {
		return err
	}
	if collection[category] == nil {
		collection[category] = map[string]Subprompt{}
	}
	collection[category][name] = sp
	return s.Save(projectID, collection)
}

// Delete removes one subprompt, dropping the category when it empties. It
// returns false when no such subprompt exists.
func (s *Store) Delete(projectID, category, name string) (bool, error) {
	collection, err := s.Load(projectID)
	if err != nil {
		return false, err
	}
	prompts, ok := collection[category]
	if !ok {
		return false, nil
	}
	if _, ok := prompts[name]; !ok {
		return false, nil
	}

	delete(prompts, name)
	if len(prompts) == 0 {
		delete(collection, category)
	}
	return true, s.Save(projectID, collection)
}
