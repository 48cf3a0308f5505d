/*
Package factory provides document to Go policy conversion.

PURPOSE:
  Converts clinic policy documents (JSON or YAML) into allocation.Policy.
  A deployment changes capacity, booking window or identity rules by
  editing a file instead of code.

DOCUMENT SCHEMA:
  {
    "id": "lavanya-evening",
    "name": "Evening walk-in clinic",
    "capacity": 30,
    "window": {
      "mode": "fixed",
      "open": "17:00",
      "close": "20:00",
      "timezone": "Asia/Kolkata"
    },
    "identity": {
      "pattern": "^[0-9]{10}$",
      "uniqueness": "per_date"
    },
    "slot": {
      "required": true,
      "default_provider": "Dr. Rao"
    }
  }

  The YAML form uses the same keys.

DEFAULTS:
  Any field left out keeps allocation.DefaultPolicy(): capacity 25,
  cutoff mode at 17:00, 10 digit phone identity unique per date.

USAGE:
  factory := NewPolicyFactory()

  policy, err := factory.ParsePolicy(jsonString)
  policy, err := factory.LoadFile("/etc/clinic/policy.yaml")

  // From a preset
  policy, err := factory.ParsePolicy(PersistentClinicJSON(25))

SEE ALSO:
  - allocation/policy.go: Policy type definition
  - presets.go: Built-in clinic configurations
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/token-engine/allocation"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// PolicyJSON is the document representation of a policy.
type PolicyJSON struct {
	ID       string        `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
	Capacity int           `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Window   *WindowJSON   `json:"window,omitempty" yaml:"window,omitempty"`
	Identity *IdentityJSON `json:"identity,omitempty" yaml:"identity,omitempty"`
	Slot     *SlotJSON     `json:"slot,omitempty" yaml:"slot,omitempty"`
}

// WindowJSON configures the same-day booking window.
type WindowJSON struct {
	Mode     string `json:"mode,omitempty" yaml:"mode,omitempty"` // cutoff, fixed
	Cutoff   string `json:"cutoff,omitempty" yaml:"cutoff,omitempty"`
	Open     string `json:"open,omitempty" yaml:"open,omitempty"`
	Close    string `json:"close,omitempty" yaml:"close,omitempty"`
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// IdentityJSON configures identity validation.
type IdentityJSON struct {
	Pattern    *string `json:"pattern,omitempty" yaml:"pattern,omitempty"` // "" disables validation
	Uniqueness string  `json:"uniqueness,omitempty" yaml:"uniqueness,omitempty"`
}

// SlotJSON configures slot metadata handling.
type SlotJSON struct {
	Required        bool   `json:"required,omitempty" yaml:"required,omitempty"`
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts policy documents to allocation.Policy values.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a Policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (allocation.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return allocation.Policy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// ParseYAML parses a YAML document into a Policy.
func (f *PolicyFactory) ParseYAML(doc []byte) (allocation.Policy, error) {
	var pj PolicyJSON
	if err := yaml.Unmarshal(doc, &pj); err != nil {
		return allocation.Policy{}, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	return f.FromJSON(pj)
}

// LoadFile reads a policy document, choosing the format by extension
// (.yaml/.yml, anything else is JSON).
func (f *PolicyFactory) LoadFile(path string) (allocation.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return allocation.Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return f.ParseYAML(raw)
	default:
		return f.ParsePolicy(string(raw))
	}
}

// FromJSON converts a document to a compiled Policy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (allocation.Policy, error) {
	policy := allocation.DefaultPolicy()
	if pj.Capacity != 0 {
		policy.Capacity = pj.Capacity
	}

	if w := pj.Window; w != nil {
		if w.Mode != "" {
			policy.Window.Mode = allocation.WindowMode(strings.ToLower(w.Mode))
		}
		if err := parseTimeOfDay(w.Cutoff, &policy.Window.Cutoff); err != nil {
			return allocation.Policy{}, err
		}
		if err := parseTimeOfDay(w.Open, &policy.Window.Open); err != nil {
			return allocation.Policy{}, err
		}
		if err := parseTimeOfDay(w.Close, &policy.Window.Close); err != nil {
			return allocation.Policy{}, err
		}
		if w.Timezone != "" {
			loc, err := time.LoadLocation(w.Timezone)
			if err != nil {
				return allocation.Policy{}, fmt.Errorf("invalid timezone %q: %w", w.Timezone, err)
			}
			policy.Window.Location = loc
		}
	}

	if id := pj.Identity; id != nil {
		if id.Pattern != nil {
			policy.IdentityPattern = *id.Pattern
		}
		if id.Uniqueness != "" {
			policy.Uniqueness = allocation.UniquenessScope(strings.ToLower(id.Uniqueness))
		}
	}

	if s := pj.Slot; s != nil {
		policy.RequireSlot = s.Required
		policy.DefaultProvider = s.DefaultProvider
	}

	if err := policy.Compile(); err != nil {
		return allocation.Policy{}, fmt.Errorf("invalid policy %q: %w", pj.ID, err)
	}
	return policy, nil
}

// ToJSON converts a Policy back to its document form.
func (f *PolicyFactory) ToJSON(policy allocation.Policy) PolicyJSON {
	pattern := policy.IdentityPattern
	pj := PolicyJSON{
		Capacity: policy.Capacity,
		Window: &WindowJSON{
			Mode:   string(policy.Window.Mode),
			Cutoff: policy.Window.Cutoff.String(),
			Open:   policy.Window.Open.String(),
			Close:  policy.Window.Close.String(),
		},
		Identity: &IdentityJSON{
			Pattern:    &pattern,
			Uniqueness: string(policy.Uniqueness),
		},
		Slot: &SlotJSON{
			Required:        policy.RequireSlot,
			DefaultProvider: policy.DefaultProvider,
		},
	}
	if loc := policy.Window.Location; loc != nil && loc != time.Local {
		pj.Window.Timezone = loc.String()
	}
	return pj
}

func parseTimeOfDay(raw string, dst *allocation.TimeOfDay) error {
	if raw == "" {
		return nil
	}
	tod, err := allocation.ParseTimeOfDay(raw)
	if err != nil {
		return err
	}
	*dst = tod
	return nil
}
