// Package prefs persists per-calendar display preferences (enabled flag and
// dot color) and groups calendars by account for presentation.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"colorcal/internal/config"
	appLog "colorcal/internal/log"
	"colorcal/internal/model"
)

// CalendarPref is the stored preference of one calendar.
type CalendarPref struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Color   string `yaml:"color" json:"color"`

	// CustomColor is set once the user picked a color; provider colors no
	// longer replace it.
	CustomColor bool `yaml:"custom_color,omitempty" json:"customColor,omitempty"`
}

type file struct {
	Calendars []CalendarPref `yaml:"calendars"`
}

// Store is a YAML-backed preference store. The zero path keeps
// preferences in memory only.
type Store struct {
	path string

	mu    sync.Mutex
	prefs []CalendarPref
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	s.prefs = f.Calendars
	return s, nil
}

// All returns a copy of the stored preferences.
func (s *Store) All() []CalendarPref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CalendarPref(nil), s.prefs...)
}

// Merge reconciles the stored preferences with the provider's current
// calendar list and persists the result. Calendars keep their enabled flag
// (new ones start enabled) and custom colors; everything else comes from
// the provider. Calendars the provider no longer lists are dropped.
func (s *Store) Merge(cals []model.Calendar) ([]CalendarPref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := make(map[string]CalendarPref, len(s.prefs))
	for _, p := range s.prefs {
		prev[p.ID] = p
	}

	merged := make([]CalendarPref, 0, len(cals))
	for _, c := range cals {
		p := CalendarPref{
			ID:      c.ID,
			Name:    c.Name,
			Enabled: true,
			Color:   model.NormalizeColor(c.Color),
		}
		if old, ok := prev[c.ID]; ok {
			p.Enabled = old.Enabled
			if old.CustomColor && model.ValidColor(old.Color) {
				p.Color = model.NormalizeColor(old.Color)
				p.CustomColor = true
			}
		}
		merged = append(merged, p)
	}

	s.prefs = merged
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return append([]CalendarPref(nil), merged...), nil
}

// Update stores user edits. Unknown ids are ignored. A color that differs
// from the stored one becomes a custom color; invalid colors fall back to
// model.DefaultColor.
func (s *Store) Update(edits []CalendarPref) ([]CalendarPref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]CalendarPref, len(edits))
	for _, e := range edits {
		byID[e.ID] = e
	}

	for i, p := range s.prefs {
		e, ok := byID[p.ID]
		if !ok {
			continue
		}
		p.Enabled = e.Enabled
		if color := model.NormalizeColor(e.Color); color != p.Color {
			p.Color = color
			p.CustomColor = true
		}
		s.prefs[i] = p
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return append([]CalendarPref(nil), s.prefs...), nil
}

// EnabledIDs returns the ids of enabled calendars in stored order.
func (s *Store) EnabledIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EnabledIDs(s.prefs)
}

func EnabledIDs(prefs []CalendarPref) []string {
	ids := make([]string, 0, len(prefs))
	for _, p := range prefs {
		if p.Enabled {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// Colors maps calendar id to dot color.
func (s *Store) Colors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.prefs))
	for _, p := range s.prefs {
		out[p.ID] = model.NormalizeColor(p.Color)
	}
	return out
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(file{Calendars: s.prefs})
	if err != nil {
		return err
	}
	if err := config.WriteFileAtomic(s.path, data); err != nil {
		appLog.Error("failed to save preferences", err, "path", s.path)
		return err
	}
	return nil
}
