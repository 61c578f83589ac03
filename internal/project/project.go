package project

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	globalConfigFilename    = "config.json"
	projectSettingsFilename = "project_settings.json"
)

// GlobalConfig is the application-wide configuration document stored at
// <dataDir>/config.json. Missing keys are backfilled from defaults on load.
type GlobalConfig struct {
	ActiveProject             string   `json:"active_project"`
	DefaultModel              string   `json:"default_model"`
	AvailableModels           []string `json:"available_models"`
	GenerationTemperature     float64  `json:"generation_temperature"`
	GenerationTopP            float64  `json:"generation_top_p"`
	GenerationTopK            int      `json:"generation_top_k"`
	GenerationMaxOutputTokens int      `json:"generation_max_output_tokens"`
}

// Settings is the per-project configuration document stored at
// <dataDir>/<project>/project_settings.json.
type Settings struct {
	DisplayName      string `json:"project_display_name"`
	MainSystemPrompt string `json:"main_system_prompt"`
	Model            string `json:"model"`
	AIEditModel      string `json:"ai_edit_model_name"`
}

func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		ActiveProject: "default_project",
		DefaultModel:  "gemini-1.5-pro-latest",
		AvailableModels: []string{
			"gemini-1.5-pro-latest",
			"gemini-1.5-flash-latest",
			"gemini-pro",
			"gemini-1.5-flash",
		},
		GenerationTemperature:     0.7,
		GenerationTopP:            0.95,
		GenerationTopK:            40,
		GenerationMaxOutputTokens: 2048,
	}
}

func defaultSettings(projectID, model string) Settings {
	return Settings{
		DisplayName:      projectID,
		MainSystemPrompt: "You are a skilled assistant for running tabletop RPG campaigns.",
		Model:            model,
	}
}

// Manager reads and writes the global config, project settings, and the
// project directories themselves under one data dir.
type Manager struct {
	dataDir string
}

func NewManager(dataDir string) *Manager {
	return &Manager{dataDir: dataDir}
}

func (m *Manager) globalConfigPath() string {
	return filepath.Join(m.dataDir, globalConfigFilename)
}

func (m *Manager) projectDir(projectID string) string {
	return filepath.Join(m.dataDir, projectID)
}

// ValidateID rejects project identifiers that would escape the data dir or
// collide with the global config file.
func ValidateID(projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("project id is empty")
	}
	if strings.ContainsAny(projectID, `/\`) || projectID != filepath.Base(projectID) || strings.HasPrefix(projectID, ".") {
		return fmt.Errorf("project id %q is not a valid directory name", projectID)
	}
	return nil
}

// LoadGlobalConfig returns the global config, creating the file with
// defaults when absent. Fields missing from the file keep their defaults; a
// file that cannot be parsed degrades to defaults with the condition logged.
func (m *Manager) LoadGlobalConfig() (GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	data, err := os.ReadFile(m.globalConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			if err := m.SaveGlobalConfig(cfg); err != nil {
				return cfg, fmt.Errorf("write initial config: %w", err)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("project: global config is malformed, using defaults: %v", err)
		return DefaultGlobalConfig(), nil
	}
	return cfg, nil
}

func (m *Manager) SaveGlobalConfig(cfg GlobalConfig) error {
	return writeJSON(m.globalConfigPath(), cfg)
}

// LoadSettings returns a project's settings, creating the file with
// defaults (display name = project id, model = global default model) when
// the project has none yet.
func (m *Manager) LoadSettings(projectID string) (Settings, error) {
	if err := ValidateID(projectID); err != nil {
		return Settings{}, err
	}

	path := filepath.Join(m.projectDir(projectID), projectSettingsFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			global, gerr := m.LoadGlobalConfig()
			if gerr != nil {
				return Settings{}, gerr
			}
			settings := defaultSettings(projectID, global.DefaultModel)
			if err := m.SaveSettings(projectID, settings); err != nil {
				return Settings{}, err
			}
			return settings, nil
		}
		return Settings{}, fmt.Errorf("read project settings: %w", err)
	}

	global, gerr := m.LoadGlobalConfig()
	if gerr != nil {
		return Settings{}, gerr
	}
	settings := defaultSettings(projectID, global.DefaultModel)
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode project settings: %w", err)
	}
	return settings, nil
}

func (m *Manager) SaveSettings(projectID string, settings Settings) error {
	if err := ValidateID(projectID); err != nil {
		return err
	}
	path := filepath.Join(m.projectDir(projectID), projectSettingsFilename)
	return writeJSON(path, settings)
}

// List returns the project directory names under the data dir, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	projects := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		projects = append(projects, e.Name())
	}
	sort.Strings(projects)
	return projects, nil
}

// Create makes a project directory with default settings. Creating an
// existing project is a no-op that returns its current settings.
func (m *Manager) Create(projectID string) (Settings, error) {
	if err := ValidateID(projectID); err != nil {
		return Settings{}, err
	}
	if err := os.MkdirAll(m.projectDir(projectID), 0o755); err != nil {
		return Settings{}, fmt.Errorf("create project dir: %w", err)
	}
	return m.LoadSettings(projectID)
}

// Delete removes a project directory and everything in it. It returns false
// when no such project exists. The operation is irreversible.
func (m *Manager) Delete(projectID string) (bool, error) {
	if err := ValidateID(projectID); err != nil {
		return false, err
	}

	dir := m.projectDir(projectID)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat project dir: %w", err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%q is not a project directory", projectID)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete project dir: %w", err)
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
