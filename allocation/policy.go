/*
policy.go - Booking rules applied by the engine

PURPOSE:
  A Policy carries every deployment-level knob the allocation engine needs:
  per-date capacity, the same-day booking window, identity validation,
  identity uniqueness scope and whether slot metadata is mandatory.

WINDOW MODES:
  cutoff: same-day booking closes at Cutoff (e.g. 17:00) and stays closed.
  fixed:  same-day booking is only accepted inside [Open, Close)
          (e.g. 17:00-20:00); outside it the request is rejected.
  Future dates are never affected by either mode.

UNIQUENESS:
  per_date: one booking per identity per date (default)
  global:   one booking per identity, ever
  none:     only (date, token) is unique

SEE ALSO:
  - factory/policy.go: Builds a Policy from JSON/YAML documents
  - engine.go: Applies the policy on every Book call
*/
package allocation

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultCapacity is the number of tokens issued per date unless configured.
const DefaultCapacity = 25

// DefaultIdentityPattern accepts a 10 digit phone number.
const DefaultIdentityPattern = `^[0-9]{10}$`

// WindowMode selects how same-day bookings are gated.
type WindowMode string

const (
	WindowCutoff WindowMode = "cutoff"
	WindowFixed  WindowMode = "fixed"
)

// UniquenessScope selects which ledger rows an identity must be unique across.
type UniquenessScope string

const (
	UniquePerDate UniquenessScope = "per_date"
	UniqueGlobal  UniquenessScope = "global"
	UniqueNone    UniquenessScope = "none"
)

// BookingWindow gates same-day bookings by local wall-clock time.
type BookingWindow struct {
	Mode     WindowMode
	Cutoff   TimeOfDay // cutoff mode
	Open     TimeOfDay // fixed mode, inclusive
	Close    TimeOfDay // fixed mode, exclusive
	Location *time.Location
}

// Policy holds the rules for one deployment.
type Policy struct {
	Capacity        int
	Window          BookingWindow
	IdentityPattern string
	Uniqueness      UniquenessScope
	RequireSlot     bool
	DefaultProvider string

	identityRE *regexp.Regexp
}

// DefaultPolicy returns the persistent clinic defaults: 25 tokens, 17:00
// cutoff, 10 digit phone identity unique per date.
func DefaultPolicy() Policy {
	return Policy{
		Capacity: DefaultCapacity,
		Window: BookingWindow{
			Mode:     WindowCutoff,
			Cutoff:   NewTimeOfDay(17, 0),
			Open:     NewTimeOfDay(17, 0),
			Close:    NewTimeOfDay(20, 0),
			Location: time.Local,
		},
		IdentityPattern: DefaultIdentityPattern,
		Uniqueness:      UniquePerDate,
	}
}

// Compile validates the policy and prepares the identity matcher.
func (p *Policy) Compile() error {
	if p.Capacity <= 0 {
		return fmt.Errorf("policy: capacity must be positive, got %d", p.Capacity)
	}
	switch p.Window.Mode {
	case WindowCutoff:
	case WindowFixed:
		if p.Window.Close <= p.Window.Open {
			return fmt.Errorf("policy: window close %s must be after open %s", p.Window.Close, p.Window.Open)
		}
	default:
		return fmt.Errorf("policy: unknown window mode %q", p.Window.Mode)
	}
	switch p.Uniqueness {
	case UniquePerDate, UniqueGlobal, UniqueNone:
	case "":
		p.Uniqueness = UniquePerDate
	default:
		return fmt.Errorf("policy: unknown uniqueness scope %q", p.Uniqueness)
	}
	if p.Window.Location == nil {
		p.Window.Location = time.Local
	}
	p.identityRE = nil
	if p.IdentityPattern != "" {
		re, err := regexp.Compile(p.IdentityPattern)
		if err != nil {
			return fmt.Errorf("policy: identity pattern: %w", err)
		}
		p.identityRE = re
	}
	return nil
}

// ValidIdentity reports whether identity has the required shape.
func (p *Policy) ValidIdentity(identity string) bool {
	if p.IdentityPattern == "" {
		return true
	}
	re := p.identityRE
	if re == nil {
		var err error
		if re, err = regexp.Compile(p.IdentityPattern); err != nil {
			return false
		}
	}
	return re.MatchString(identity)
}

// CheckDate applies the date window: PastDate for days before today,
// BookingWindowClosed for same-day requests outside the window.
func (p *Policy) CheckDate(date Date, now time.Time) ErrorKind {
	loc := p.Window.Location
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	today := DateOf(local)

	if date.Before(today) {
		return KindPastDate
	}
	if !date.Equal(today) {
		return ""
	}

	tod := TimeOfDayOf(local)
	switch p.Window.Mode {
	case WindowFixed:
		if tod < p.Window.Open || tod >= p.Window.Close {
			return KindWindowClosed
		}
	default:
		if tod >= p.Window.Cutoff {
			return KindWindowClosed
		}
	}
	return ""
}

// Today returns the current calendar day in the policy's location.
func (p *Policy) Today(now time.Time) Date {
	loc := p.Window.Location
	if loc == nil {
		loc = time.Local
	}
	return DateOf(now.In(loc))
}
