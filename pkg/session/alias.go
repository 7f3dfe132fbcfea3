package session

import (
	"fmt"
	"regexp"
)

// AliasFunc is an asynchronous alias callback, scheduled on the script
// executor.
type AliasFunc func(sessionID int, alias *Alias, line InputLine, groups []string) error

// AliasConfig is the immutable schema of an alias.
type AliasConfig struct {
	Name    string
	Pattern string
	// Expansion replaces the sent text on match; the typed text is kept as
	// the line's Original. Expansions are not re-evaluated against aliases.
	Expansion string
	// EatInput suppresses transmission entirely; the match still fires the
	// callback and the InputLine event.
	EatInput bool
	// Module tags the owning script module for reload purges.
	Module string

	Callback AliasFunc
}

// Alias is a compiled alias registered on a session.
type Alias struct {
	ID       int
	Config   AliasConfig
	Enabled  bool
	HitCount uint64

	re *regexp.Regexp
}

func newAlias(id int, cfg AliasConfig) (*Alias, error) {
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: cfg.Pattern, Err: err}
	}
	return &Alias{ID: id, Config: cfg, Enabled: true, re: re}, nil
}

// matches tests the alias against input text, incrementing the hit count on
// a match.
func (a *Alias) matches(input string) (bool, []string) {
	m := a.re.FindStringSubmatch(input)
	if m == nil {
		return false, nil
	}
	a.HitCount++
	return true, m[1:]
}

func (a *Alias) String() string {
	return fmt.Sprintf("%s: %s", a.Config.Name, a.Config.Pattern)
}
