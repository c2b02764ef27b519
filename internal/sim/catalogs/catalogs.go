package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Catalogs holds the static economy tables: base (structure) definitions and
// the technology tree. Loaded once at startup; no state, no mutation.
type Catalogs struct {
	Bases BaseCatalog
	Techs TechCatalog
}

type BaseCatalog struct {
	ByID   map[string]BaseDef
	IDs    []string
	Digest string
}

type BaseDef struct {
	ID               string         `json:"id"`
	BuildTimeSeconds int            `json:"build_time_seconds"`
	WorkersRequired  int            `json:"workers_required"`
	Cost             map[string]int `json:"cost"`
	Production       map[string]int `json:"production"`  // per simulated minute
	Consumption      map[string]int `json:"consumption"` // per simulated minute
	ConnectionSides  []string       `json:"connection_sides"`
	StorageBonus     map[string]int `json:"storage_bonus,omitempty"`
}

type TechCatalog struct {
	ByID   map[string]TechDef
	IDs    []string
	Digest string

	// unlockedBy maps a base type to the tech that gates it. Bases absent
	// from every tech's unlocks have no gate.
	unlockedBy map[string]string
}

type TechDef struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Cost                int      `json:"cost"` // tech points
	ResearchTimeSeconds int      `json:"research_time_seconds"`
	Prerequisites       []string `json:"prerequisites"`
	Unlocks             []string `json:"unlocks"`
	Tier                int      `json:"tier"`
	Category            string   `json:"category"`
}

// CommandBase is the unique pre-built hub every city starts with.
const CommandBase = "command_ship"

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBases(configDir, &c.Bases); err != nil {
		return nil, err
	}
	if err := loadTechs(configDir, &c.Techs); err != nil {
		return nil, err
	}
	if _, ok := c.Bases.ByID[CommandBase]; !ok {
		return nil, fmt.Errorf("bases.json: missing %s", CommandBase)
	}
	// Cross-check tech references against known ids.
	for _, t := range c.Techs.ByID {
		for _, u := range t.Unlocks {
			if _, ok := c.Bases.ByID[u]; !ok {
				return nil, fmt.Errorf("techs.json: %s unlocks unknown base %q", t.ID, u)
			}
		}
		for _, p := range t.Prerequisites {
			if _, ok := c.Techs.ByID[p]; !ok {
				return nil, fmt.Errorf("techs.json: %s requires unknown tech %q", t.ID, p)
			}
		}
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func validateSchema(configDir, schemaName string, raw []byte) error {
	schemaPath := filepath.Join(configDir, "schemas", schemaName)
	sc, err := jsonschema.Compile(schemaPath)
	if err != nil {
		return fmt.Errorf("compile %s: %w", schemaName, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := sc.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", schemaName, err)
	}
	return nil
}

func loadBases(configDir string, out *BaseCatalog) error {
	path := filepath.Join(configDir, "bases.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := validateSchema(configDir, "bases.schema.json", raw); err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []BaseDef
	if err := json.Unmarshal(bytes.TrimSpace(raw), &defs); err != nil {
		return fmt.Errorf("bases.json: %w", err)
	}
	out.ByID = map[string]BaseDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("bases.json: empty id")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("bases.json: duplicate id %q", d.ID)
		}
		out.ByID[d.ID] = d
	}
	ids := make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	return nil
}

func loadTechs(configDir string, out *TechCatalog) error {
	path := filepath.Join(configDir, "techs.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := validateSchema(configDir, "techs.schema.json", raw); err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []TechDef
	if err := json.Unmarshal(bytes.TrimSpace(raw), &defs); err != nil {
		return fmt.Errorf("techs.json: %w", err)
	}
	out.ByID = map[string]TechDef{}
	out.unlockedBy = map[string]string{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("techs.json: empty id")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("techs.json: duplicate id %q", d.ID)
		}
		out.ByID[d.ID] = d
		for _, u := range d.Unlocks {
			out.unlockedBy[u] = d.ID
		}
	}
	ids := make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.IDs = ids
	return nil
}

// Base returns the definition for a base type, or ok=false for unknown ids.
func (c *Catalogs) Base(id string) (BaseDef, bool) {
	d, ok := c.Bases.ByID[id]
	return d, ok
}

// Tech returns the definition for a tech id, or ok=false for unknown ids.
func (c *Catalogs) Tech(id string) (TechDef, bool) {
	d, ok := c.Techs.ByID[id]
	return d, ok
}

// GateFor returns the tech that must be unlocked before baseType is
// buildable, or "" when the base has no gate.
func (c *Catalogs) GateFor(baseType string) string {
	return c.Techs.unlockedBy[baseType]
}

// CanResearch reports whether techID is eligible to start: it exists, is not
// already unlocked, and every prerequisite is a member of unlocked.
func (c *Catalogs) CanResearch(techID string, unlocked []string) bool {
	t, ok := c.Techs.ByID[techID]
	if !ok {
		return false
	}
	have := map[string]bool{}
	for _, u := range unlocked {
		have[u] = true
	}
	if have[techID] {
		return false
	}
	for _, p := range t.Prerequisites {
		if !have[p] {
			return false
		}
	}
	return true
}

// Researchable filters the tree down to techs eligible to start now.
func (c *Catalogs) Researchable(unlocked []string) []string {
	var out []string
	for _, id := range c.Techs.IDs {
		if c.CanResearch(id, unlocked) {
			out = append(out, id)
		}
	}
	return out
}

// DefaultUnlockedTechs lists the zero-cost tier-1 techs every new city has.
func (c *Catalogs) DefaultUnlockedTechs() []string {
	var out []string
	for _, id := range c.Techs.IDs {
		t := c.Techs.ByID[id]
		if t.Tier == 1 && t.Cost == 0 && len(t.Prerequisites) == 0 {
			out = append(out, id)
		}
	}
	return out
}
