package session

import (
	"fmt"
	"regexp"
)

// InvalidPatternError reports a pattern that failed to compile at
// registration time.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// TriggerFunc is an asynchronous trigger callback, scheduled on the script
// executor and not awaited within the line's processing.
type TriggerFunc func(sessionID int, trigger *Trigger, line MudLine, groups []string) error

// HighlightFunc is a synchronous display callback. A non-nil return replaces
// the line for display only.
type HighlightFunc func(line MudLine, groups []string) *MudLine

// TriggerConfig is the immutable schema of a trigger. Runtime state (enabled,
// hit count) lives on the Trigger.
type TriggerConfig struct {
	Name    string
	Pattern string
	// StripAnsi runs the match against the ANSI-stripped line text.
	StripAnsi bool
	// Prompt restricts the trigger to prompt lines.
	Prompt bool
	// Gag suppresses the matched line from the rendered output.
	Gag bool
	// Expansion is sent to the MUD as scripted input on match.
	Expansion string
	// Module tags the owning script module for reload purges.
	Module string

	Callback  TriggerFunc
	Highlight HighlightFunc
}

// Trigger is a compiled trigger registered on a session.
type Trigger struct {
	ID       int
	Config   TriggerConfig
	Enabled  bool
	HitCount uint64

	re *regexp.Regexp
}

func newTrigger(id int, cfg TriggerConfig) (*Trigger, error) {
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: cfg.Pattern, Err: err}
	}
	return &Trigger{ID: id, Config: cfg, Enabled: true, re: re}, nil
}

// matches tests the trigger against a line, incrementing the hit count on a
// match. Returned groups are the captured substrings, excluding the full
// match.
func (t *Trigger) matches(line *MudLine) (bool, []string) {
	if t.Config.Prompt && !line.Prompt {
		return false, nil
	}
	haystack := line.String()
	if t.Config.StripAnsi {
		haystack = line.Stripped()
	}
	m := t.re.FindStringSubmatch(haystack)
	if m == nil {
		return false, nil
	}
	t.HitCount++
	return true, m[1:]
}

func (t *Trigger) String() string {
	return fmt.Sprintf("%s: %s", t.Config.Name, t.Config.Pattern)
}
