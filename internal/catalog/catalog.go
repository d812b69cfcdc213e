// Package catalog holds the immutable resource lookup tables: sports with their
// minimum participants, exercise facilities and co-working spaces.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

type Sport struct {
	Key             string `yaml:"key" json:"key"`
	Name            string `yaml:"name" json:"name"`
	MinParticipants int    `yaml:"min_participants" json:"min_participants"`
}

type Period struct {
	Name  string `yaml:"name" json:"name"`
	Hours string `yaml:"hours" json:"hours"`
}

type Facility struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	UnitLabel  string   `yaml:"unit_label" json:"unit_label"`
	TotalUnits int      `yaml:"total_units" json:"total_units"`
	Periods    []Period `yaml:"periods" json:"periods"`
}

// HasPeriod matches period names case-insensitively and returns the canonical name.
func (f Facility) HasPeriod(slot string) (string, bool) {
	for _, p := range f.Periods {
		if strings.EqualFold(p.Name, strings.TrimSpace(slot)) {
			return p.Name, true
		}
	}
	return "", false
}

type Space struct {
	ID         string `yaml:"id" json:"id"`
	Hub        string `yaml:"hub" json:"hub"`
	Name       string `yaml:"name" json:"name"`
	Location   string `yaml:"location" json:"location"`
	TotalUnits int    `yaml:"total_units" json:"total_units"`
	UnitLabel  string `yaml:"unit_label" json:"unit_label"`
}

// Config is the YAML shape of the catalog section.
type Config struct {
	Sports    []Sport    `yaml:"sports" json:"sports"`
	Exercise  []Facility `yaml:"exercise" json:"exercise"`
	Coworking []Space    `yaml:"coworking" json:"coworking"`
}

// Catalog is safe for concurrent use; it is never mutated after New.
type Catalog struct {
	sports     map[string]Sport
	facilities map[string]Facility
	spaces     map[string]Space
	listing    Config
}

// New validates cfg and builds the lookup maps. Empty sections fall back to Default.
func New(cfg Config) (*Catalog, error) {
	def := Default()
	if len(cfg.Sports) == 0 {
		cfg.Sports = def.Sports
	}
	if len(cfg.Exercise) == 0 {
		cfg.Exercise = def.Exercise
	}
	if len(cfg.Coworking) == 0 {
		cfg.Coworking = def.Coworking
	}

	c := &Catalog{
		sports:     make(map[string]Sport, len(cfg.Sports)),
		facilities: make(map[string]Facility, len(cfg.Exercise)),
		spaces:     make(map[string]Space, len(cfg.Coworking)),
	}

	for _, s := range cfg.Sports {
		s.Key = normalizeKey(s.Key)
		if s.Key == "" {
			return nil, fmt.Errorf("sport %q has empty key", s.Name)
		}
		if s.MinParticipants < 1 {
			return nil, fmt.Errorf("sport %q: min_participants must be positive", s.Key)
		}
		if _, dup := c.sports[s.Key]; dup {
			return nil, fmt.Errorf("duplicate sport key: %s", s.Key)
		}
		if s.Name == "" {
			s.Name = s.Key
		}
		c.sports[s.Key] = s
		c.listing.Sports = append(c.listing.Sports, s)
	}

	for _, f := range cfg.Exercise {
		f.ID = normalizeKey(f.ID)
		if f.ID == "" {
			return nil, fmt.Errorf("facility %q has empty id", f.Name)
		}
		if f.TotalUnits < 1 {
			return nil, fmt.Errorf("facility %q: total_units must be positive", f.ID)
		}
		if len(f.Periods) == 0 {
			return nil, fmt.Errorf("facility %q has no periods", f.ID)
		}
		if _, dup := c.facilities[f.ID]; dup {
			return nil, fmt.Errorf("duplicate facility id: %s", f.ID)
		}
		c.facilities[f.ID] = f
		c.listing.Exercise = append(c.listing.Exercise, f)
	}

	for _, sp := range cfg.Coworking {
		sp.Hub = strings.ToUpper(strings.TrimSpace(sp.Hub))
		sp.ID = strings.TrimSpace(sp.ID)
		if sp.Hub == "" || sp.ID == "" {
			return nil, fmt.Errorf("space %q needs hub and id", sp.Name)
		}
		if sp.TotalUnits < 1 {
			return nil, fmt.Errorf("space %q: total_units must be positive", sp.ID)
		}
		key := spaceKey(sp.Hub, sp.ID)
		if _, dup := c.spaces[key]; dup {
			return nil, fmt.Errorf("duplicate space: %s/%s", sp.Hub, sp.ID)
		}
		c.spaces[key] = sp
		c.listing.Coworking = append(c.listing.Coworking, sp)
	}

	sort.SliceStable(c.listing.Sports, func(i, j int) bool { return c.listing.Sports[i].Key < c.listing.Sports[j].Key })

	return c, nil
}

func (c *Catalog) Sport(key string) (Sport, bool) {
	s, ok := c.sports[normalizeKey(key)]
	return s, ok
}

func (c *Catalog) Facility(id string) (Facility, bool) {
	f, ok := c.facilities[normalizeKey(id)]
	return f, ok
}

// Space resolves a hub and space id pair; the hub is matched case-insensitively.
func (c *Catalog) Space(hub, spaceID string) (Space, bool) {
	sp, ok := c.spaces[spaceKey(strings.ToUpper(strings.TrimSpace(hub)), strings.TrimSpace(spaceID))]
	return sp, ok
}

// SpacesInHub lists the spaces of one hub in configuration order.
func (c *Catalog) SpacesInHub(hub string) []Space {
	hub = strings.ToUpper(strings.TrimSpace(hub))
	var out []Space
	for _, sp := range c.listing.Coworking {
		if sp.Hub == hub {
			out = append(out, sp)
		}
	}
	return out
}

// Listing returns a copy of the whole catalog for clients.
func (c *Catalog) Listing() Config {
	return Config{
		Sports:    append([]Sport(nil), c.listing.Sports...),
		Exercise:  append([]Facility(nil), c.listing.Exercise...),
		Coworking: append([]Space(nil), c.listing.Coworking...),
	}
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
}

func spaceKey(hub, id string) string {
	return hub + "/" + id
}
