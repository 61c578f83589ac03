package entity

import (
	"encoding/json"
	"fmt"
)

// HistoryEntry is one dated note on an item's timeline.
type HistoryEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Entry     string `json:"entry"`
}

// Item is one record in a category file. Unknown fields round-trip through
// Extra so documents written by other tools survive an edit here.
type Item struct {
	ID            string
	Name          string
	Description   string
	Category      string
	Tags          []string
	ReferenceTags []string
	History       []HistoryEntry
	ImagePath     string
	Extra         map[string]json.RawMessage
}

var knownItemKeys = map[string]bool{
	"id":             true,
	"name":           true,
	"description":    true,
	"category":       true,
	"tags":           true,
	"reference_tags": true,
	"history":        true,
	"image_path":     true,
}

func (it Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(it.Extra)+8)
	for k, v := range it.Extra {
		if knownItemKeys[k] {
			continue
		}
		out[k] = v
	}

	put := func(key string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		out[key] = raw
		return nil
	}

	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	history := it.History
	if history == nil {
		history = []HistoryEntry{}
	}

	if err := put("id", it.ID); err != nil {
		return nil, err
	}
	if err := put("name", it.Name); err != nil {
		return nil, err
	}
	if err := put("description", it.Description); err != nil {
		return nil, err
	}
	if err := put("category", it.Category); err != nil {
		return nil, err
	}
	if err := put("tags", tags); err != nil {
		return nil, err
	}
	if err := put("history", history); err != nil {
		return nil, err
	}
	if len(it.ReferenceTags) > 0 {
		if err := put("reference_tags", it.ReferenceTags); err != nil {
			return nil, err
		}
	}
	if it.ImagePath == "" {
		out["image_path"] = json.RawMessage("null")
	} else if err := put("image_path", it.ImagePath); err != nil {
		return nil, err
	}

	return json.Marshal(out)
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	take := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return nil
	}

	if err := take("id", &it.ID); err != nil {
		return err
	}
	if err := take("name", &it.Name); err != nil {
		return err
	}
	if err := take("description", &it.Description); err != nil {
		return err
	}
	if err := take("category", &it.Category); err != nil {
		return err
	}
	if err := take("tags", &it.Tags); err != nil {
		return err
	}
	if err := take("reference_tags", &it.ReferenceTags); err != nil {
		return err
	}
	if err := take("history", &it.History); err != nil {
		return err
	}
	if err := take("image_path", &it.ImagePath); err != nil {
		return err
	}

	for k, v := range raw {
		if knownItemKeys[k] {
			continue
		}
		if it.Extra == nil {
			it.Extra = make(map[string]json.RawMessage)
		}
		it.Extra[k] = v
	}
	return nil
}
