package subprompt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	collection, err := s.Load("campaign")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(collection) != 0 {
		t.Fatalf("fresh collection not empty: %v", collection)
	}
	if _, err := os.Stat(filepath.Join(dir, "campaign", "subprompts.json")); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

func TestSetAndDelete(t *testing.T) {
	s := NewStore(t.TempDir())

	sp := Subprompt{
		Prompt:        "Describe the scene in second person.",
		Model:         "gemini-1.5-flash-latest",
		ReferenceTags: []string{"party", "scene"},
	}
	if err := s.Set("campaign", "narration", "scene", sp); err != nil {
		t.Fatalf("set: %v", err)
	}

	collection, err := s.Load("campaign")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := collection["narration"]["scene"]
	if got.Prompt != sp.Prompt || got.Model != sp.Model || len(got.ReferenceTags) != 2 {
		t.Fatalf("stored subprompt = %+v", got)
	}

	deleted, err := s.Delete("campaign", "narration", "scene")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	collection, err = s.Load("campaign")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := collection["narration"]; ok {
		t.Fatalf("empty category should be dropped: %v", collection)
	}

	deleted, err = s.Delete("campaign", "narration", "scene")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatalf("deleting a missing subprompt should report false")
	}
}

func TestMalformedFileDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "campaign"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "campaign", "subprompts.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	collection, err := NewStore(dir).Load("campaign")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(collection) != 0 {
		t.Fatalf("expected empty collection, got %v", collection)
	}
}

func TestWireShape(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	if err := s.Set("campaign", "narration", "scene", Subprompt{Prompt: "p"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "campaign", "subprompts.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]map[string]map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := doc["narration"]["scene"]["prompt"]; !ok {
		t.Fatalf("unexpected shape: %v", doc)
	}
}
