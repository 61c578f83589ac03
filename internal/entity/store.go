package entity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	gamedataSubdir = "gamedata"
	imagesSubdir   = "images"
)

// ErrNotFound is returned when a category or item does not exist.
var ErrNotFound = fmt.Errorf("entity not found")

// SearchLogic selects how multiple search tags combine.
type SearchLogic string

const (
	SearchAny SearchLogic = "OR"
	SearchAll SearchLogic = "AND"
)

// Summary is the lightweight listing form of an item.
type Summary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Match is a tag-search hit: the item, where it lives, and its most recent
// history entries for prompt context.
type Match struct {
	Item
	RecentHistory []string `json:"recent_history"`
}

// MarshalJSON adds recent_history alongside the item keys. Without it the
// embedded Item's marshaler would be promoted and recent_history dropped.
func (m Match) MarshalJSON() ([]byte, error) {
	raw, err := m.Item.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	recent := m.RecentHistory
	if recent == nil {
		recent = []string{}
	}
	rawRecent, err := json.Marshal(recent)
	if err != nil {
		return nil, err
	}
	out["recent_history"] = rawRecent
	return json.Marshal(out)
}

// Store manages categorized game records as one JSON document per category,
// keyed by item id, under <dataDir>/<project>/gamedata/.
type Store struct {
	dataDir string
}

func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) gamedataDir(projectID string) string {
	return filepath.Join(s.dataDir, projectID, gamedataSubdir)
}

// ImagesDir returns the per-project directory for item images, creating it
// on first use.
func (s *Store) ImagesDir(projectID string) (string, error) {
	dir := filepath.Join(s.dataDir, projectID, imagesSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}
	return dir, nil
}

func (s *Store) categoryPath(projectID, category string) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("project id is required")
	}
	if err := validateCategoryName(category); err != nil {
		return "", err
	}
	return filepath.Join(s.gamedataDir(projectID), category+".json"), nil
}

func validateCategoryName(category string) error {
	if strings.TrimSpace(category) == "" {
		return fmt.Errorf("category name is empty")
	}
	if strings.ContainsAny(category, `/\`) || category != filepath.Base(category) {
		return fmt.Errorf("category name %q is not a valid file name", category)
	}
	return nil
}

// ListCategories returns the category names of a project, sorted. A project
// with no gamedata directory has no categories.
func (s *Store) ListCategories(projectID string) ([]string, error) {
	entries, err := os.ReadDir(s.gamedataDir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read gamedata dir: %w", err)
	}

	categories := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		categories = append(categories, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(categories)
	return categories, nil
}

// CreateCategory creates an empty category file. It returns false without
// error when the category already exists.
func (s *Store) CreateCategory(projectID, category string) (bool, error) {
	path, err := s.categoryPath(projectID, category)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := s.saveCategory(projectID, category, map[string]Item{}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) loadCategory(projectID, category string) (map[string]Item, error) {
	path, err := s.categoryPath(projectID, category)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read category %q: %w", category, err)
	}

	items := map[string]Item{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode category %q: %w", category, err)
	}
	return items, nil
}

func (s *Store) saveCategory(projectID, category string, items map[string]Item) error {
	path, err := s.categoryPath(projectID, category)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode category %q: %w", category, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create gamedata dir: %w", err)
	}

	// Write-then-rename so a crash mid-save never corrupts the category.
	tmp, err := os.CreateTemp(dir, ".category-*")
	if err != nil {
		return fmt.Errorf("write category: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write category: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write category: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write category: %w", err)
	}
	return nil
}

// ListItems returns id/name summaries for every item in a category, sorted
// by name. A missing category lists as empty.
func (s *Store) ListItems(projectID, category string) ([]Summary, error) {
	items, err := s.loadCategory(projectID, category)
	if err != nil {
		if err == ErrNotFound {
			return []Summary{}, nil
		}
		return nil, err
	}

	out := make([]Summary, 0, len(items))
	for key, item := range items {
		id := item.ID
		if id == "" {
			id = key
		}
		out = append(out, Summary{ID: id, Name: item.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetItem returns one item by id.
func (s *Store) GetItem(projectID, category, itemID string) (Item, error) {
	items, err := s.loadCategory(projectID, category)
	if err != nil {
		return Item{}, err
	}
	item, ok := items[itemID]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

// AddItem stores a new item and returns its id. The name is required; a
// missing id is generated from the category name. Adding to a category that
// does not exist yet creates it.
func (s *Store) AddItem(projectID, category string, item Item) (string, error) {
	if strings.TrimSpace(item.Name) == "" {
		return "", fmt.Errorf("item name is required")
	}

	items, err := s.loadCategory(projectID, category)
	if err != nil {
		if err != ErrNotFound {
			return "", err
		}
		items = map[string]Item{}
	}

	if item.ID == "" {
		item.ID = newItemID(category)
	}
	item.Category = category

	items[item.ID] = item
	if err := s.saveCategory(projectID, category, items); err != nil {
		return "", err
	}
	return item.ID, nil
}

func newItemID(category string) string {
	var prefix strings.Builder
	for _, r := range category {
		if prefix.Len() == 4 {
			break
		}
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			prefix.WriteRune(r)
		}
	}
	p := strings.ToLower(prefix.String())
	if p == "" {
		p = "item"
	}
	return p + "-" + uuid.NewString()
}

// UpdateItem merges patch fields into the stored item. The id and category
// fields are immutable; patch values for them are ignored.
func (s *Store) UpdateItem(projectID, category, itemID string, patch map[string]json.RawMessage) error {
	items, err := s.loadCategory(projectID, category)
	if err != nil {
		return err
	}
	item, ok := items[itemID]
	if !ok {
		return ErrNotFound
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return fmt.Errorf("reshape item: %w", err)
	}
	for k, v := range patch {
		if k == "id" || k == "category" {
			continue
		}
		merged[k] = v
	}
	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode merged item: %w", err)
	}

	var updated Item
	if err := json.Unmarshal(mergedRaw, &updated); err != nil {
		return fmt.Errorf("patch does not fit item shape: %w", err)
	}
	items[itemID] = updated
	return s.saveCategory(projectID, category, items)
}

// DeleteItem removes one item by id.
func (s *Store) DeleteItem(projectID, category, itemID string) error {
	items, err := s.loadCategory(projectID, category)
	if err != nil {
		return err
	}
	if _, ok := items[itemID]; !ok {
		return ErrNotFound
	}
	delete(items, itemID)
	return s.saveCategory(projectID, category, items)
}

// AddHistoryEntry appends a dated note to an item's timeline.
func (s *Store) AddHistoryEntry(projectID, category, itemID, text string) (HistoryEntry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return HistoryEntry{}, fmt.Errorf("history entry is empty")
	}

	items, err := s.loadCategory(projectID, category)
	if err != nil {
		return HistoryEntry{}, err
	}
	item, ok := items[itemID]
	if !ok {
		return HistoryEntry{}, ErrNotFound
	}

	entry := HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Entry:     text,
	}
	item.History = append(item.History, entry)
	items[itemID] = item
	if err := s.saveCategory(projectID, category, items); err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}

// UpdateTags replaces an item's tag list.
func (s *Store) UpdateTags(projectID, category, itemID string, tags []string) error {
	items, err := s.loadCategory(projectID, category)
	if err != nil {
		return err
	}
	item, ok := items[itemID]
	if !ok {
		return ErrNotFound
	}
	if tags == nil {
		tags = []string{}
	}
	item.Tags = tags
	items[itemID] = item
	return s.saveCategory(projectID, category, items)
}

// FindItemsByTags scans every category of a project for items whose tags
// match. Matches carry the texts of the item's two most recent history
// entries so callers can build prompt context without re-fetching.
func (s *Store) FindItemsByTags(projectID string, tags []string, logic SearchLogic, caseInsensitive bool) ([]Match, error) {
	wanted := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if caseInsensitive {
			t = strings.ToLower(t)
		}
		wanted = append(wanted, t)
	}
	if len(wanted) == 0 {
		return []Match{}, nil
	}

	categories, err := s.ListCategories(projectID)
	if err != nil {
		return nil, err
	}

	matches := []Match{}
	for _, category := range categories {
		items, err := s.loadCategory(projectID, category)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}

		ids := make([]string, 0, len(items))
		for id := range items {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			item := items[id]
			if !tagsMatch(item.Tags, wanted, logic, caseInsensitive) {
				continue
			}
			matches = append(matches, Match{
				Item:          item,
				RecentHistory: recentHistoryTexts(item.History, 2),
			})
		}
	}
	return matches, nil
}

func tagsMatch(itemTags, wanted []string, logic SearchLogic, caseInsensitive bool) bool {
	have := make(map[string]bool, len(itemTags))
	for _, t := range itemTags {
		if caseInsensitive {
			t = strings.ToLower(t)
		}
		have[strings.TrimSpace(t)] = true
	}

	if logic == SearchAll {
		for _, w := range wanted {
			if !have[w] {
				return false
			}
		}
		return true
	}
	for _, w := range wanted {
		if have[w] {
			return true
		}
	}
	return false
}

func recentHistoryTexts(entries []HistoryEntry, n int) []string {
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Entry)
	}
	return out
}
