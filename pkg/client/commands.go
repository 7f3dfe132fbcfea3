package client

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/mudpuppy/mudpuppy/pkg/script"
	"github.com/mudpuppy/mudpuppy/pkg/session"
)

// command is one slash command. Built-ins carry an empty module tag;
// script-registered commands are purged with their module on reload.
type command struct {
	name   string
	help   string
	module string
	run    func(c *Client, sessionID int, args string) error
}

func (c *Client) registerCommand(cmd *command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.commands[cmd.name]; ok && existing.module == "" {
		return fmt.Errorf("command %q is built in", cmd.name)
	} else if ok {
		return fmt.Errorf("command %q already registered by module %s", cmd.name, existing.module)
	}
	c.commands[cmd.name] = cmd
	c.cmdOrder = append(c.cmdOrder, cmd.name)
	return nil
}

// unloadCommandsLocked purges a module's commands; caller holds c.mu.
func (c *Client) unloadCommandsLocked(module string) {
	kept := c.cmdOrder[:0]
	for _, name := range c.cmdOrder {
		if cmd := c.commands[name]; cmd != nil && cmd.module == module {
			delete(c.commands, name)
			continue
		}
		kept = append(kept, name)
	}
	c.cmdOrder = kept
}

// HandleInput processes one line typed by the user. The per-MUD command
// separator splits the line before anything else, so a command can follow a
// game command on the same line. Segments starting with the command prefix
// run as slash commands and are never transmitted; everything else goes to
// the focused session through the alias pipeline.
func (c *Client) HandleInput(text string) {
	c.mu.Lock()
	prefix := c.cfg.CommandPrefix
	separator := ";;"
	active, hasActive := c.activeLocked()
	if hasActive {
		separator = active.Mud.CommandSeparator
	}
	c.mu.Unlock()

	segments := []string{text}
	if separator != "" && strings.Contains(text, separator) {
		segments = strings.Split(text, separator)
	}

	for _, segment := range segments {
		if strings.HasPrefix(segment, prefix) {
			c.runCommand(strings.TrimPrefix(segment, prefix))
			continue
		}
		if !hasActive {
			log.Printf("dropping input with no session: %q", segment)
			continue
		}
		c.mu.Lock()
		err := active.SendLine(segment, false)
		c.mu.Unlock()
		if err != nil {
			c.commandResult(fmt.Sprintf("send failed: %v", err), true)
		} else {
			c.metrics.InputLines.Inc()
		}
	}
}

func (c *Client) runCommand(line string) {
	name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	if name == "" {
		return
	}

	c.mu.Lock()
	cmd, ok := c.commands[name]
	c.mu.Unlock()
	if !ok {
		c.commandResult(fmt.Sprintf("unknown command %q", name), true)
		return
	}

	sessionID, _ := c.Registry.Active()
	if err := cmd.run(c, sessionID, strings.TrimSpace(args)); err != nil {
		c.commandResult(fmt.Sprintf("%s: %v", name, err), true)
	}
}

// commandResult surfaces a command outcome on the focused session. When no
// session exists the message is only written to the log; nothing is shown
// in the TUI.
func (c *Client) commandResult(message string, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.activeLocked(); ok {
		s.AddOutput(session.CommandOutput(message, failed))
		return
	}
	log.Printf("command result (no session): %s", message)
}

func registerBuiltinCommands(c *Client) {
	builtins := []*command{
		{name: "quit", help: "exit mudpuppy", run: cmdQuit},
		{name: "status", help: "list sessions; --verbose for details", run: cmdStatus},
		{name: "connect", help: "connect [mud] - connect the focused or a new session", run: cmdConnect},
		{name: "disconnect", help: "disconnect the focused session", run: cmdDisconnect},
		{name: "reload", help: "reload all script modules", run: cmdReload},
		{name: "trigger", help: "trigger <pattern> [--gag] - transient trigger", run: cmdTrigger},
		{name: "alias", help: "alias <pattern> <expansion> - transient alias", run: cmdAlias},
		{name: "timer", help: "timer <duration> <text> - transient expansion timer", run: cmdTimer},
		{name: "bindings", help: "bindings list [--mode <name>]", run: cmdBindings},
		{name: "py", help: "py <expr> - evaluate with the script runtime", run: cmdPy},
	}
	for _, cmd := range builtins {
		if err := c.registerCommand(cmd); err != nil {
			panic(err)
		}
	}
}

func cmdQuit(c *Client, sessionID int, _ string) error {
	c.commandResult("Quitting...", false)
	c.Quit()
	return nil
}

func cmdStatus(c *Client, _ int, args string) error {
	verbose := strings.Contains(args, "--verbose")
	sessions := c.Registry.Sessions()
	if len(sessions) == 0 {
		c.commandResult("no sessions", false)
		return nil
	}
	activeID, _ := c.Registry.Active()

	c.mu.Lock()
	defer c.mu.Unlock()
	target, hasTarget := c.activeLocked()
	for _, s := range sessions {
		marker := ""
		if s.ID == activeID {
			marker = "(*) "
		}
		var line string
		switch s.Status() {
		case session.StatusConnected:
			line = fmt.Sprintf("%ssession %d: %s - connected %s", marker, s.ID, s.Mud.Name, s.Info())
		default:
			line = fmt.Sprintf("%ssession %d: %s - %s", marker, s.ID, s.Mud.Name, s.Status())
		}
		if hasTarget {
			target.AddOutput(session.CommandOutput(line, false))
		}
		if verbose && hasTarget {
			detail := fmt.Sprintf("    %d triggers, %d aliases, prompt: %s, echo: %s",
				len(s.Triggers()), len(s.Aliases()), s.PromptMode(), s.Echo())
			target.AddOutput(session.CommandOutput(detail, false))
		}
	}
	return nil
}

func cmdConnect(c *Client, sessionID int, args string) error {
	if args != "" {
		s, err := c.NewSession(args)
		if err != nil {
			return err
		}
		if err := c.Registry.SetActive(s.ID); err != nil {
			return err
		}
		return c.Connect(s.ID)
	}
	if sessionID == 0 {
		return fmt.Errorf("no focused session; use connect <mud>")
	}
	return c.Connect(sessionID)
}

func cmdDisconnect(c *Client, sessionID int, _ string) error {
	if sessionID == 0 {
		return fmt.Errorf("no focused session")
	}
	return c.Disconnect(sessionID)
}

func cmdReload(c *Client, _ int, _ string) error {
	if err := c.Reload(); err != nil {
		return err
	}
	c.commandResult("scripts reloaded", false)
	return nil
}

func cmdTrigger(c *Client, sessionID int, args string) error {
	if sessionID == 0 {
		return fmt.Errorf("no focused session")
	}
	gag := false
	if rest, found := strings.CutSuffix(args, "--gag"); found {
		gag = true
		args = strings.TrimSpace(rest)
	}
	if args == "" {
		return fmt.Errorf("usage: trigger <pattern> [--gag]")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Registry.Get(sessionID)
	if !ok {
		return &session.NotFoundError{Kind: "session", ID: sessionID}
	}
	t, err := s.AddTrigger(session.TriggerConfig{
		Name:      fmt.Sprintf("transient-%s", args),
		Pattern:   args,
		StripAnsi: true,
		Gag:       gag,
		Module:    "command",
	})
	if err != nil {
		return err
	}
	s.AddOutput(session.CommandOutput(fmt.Sprintf("trigger %d created", t.ID), false))
	return nil
}

func cmdAlias(c *Client, sessionID int, args string) error {
	if sessionID == 0 {
		return fmt.Errorf("no focused session")
	}
	pattern, expansion, found := strings.Cut(args, " ")
	if !found || pattern == "" {
		return fmt.Errorf("usage: alias <pattern> <expansion>")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Registry.Get(sessionID)
	if !ok {
		return &session.NotFoundError{Kind: "session", ID: sessionID}
	}
	a, err := s.AddAlias(session.AliasConfig{
		Name:      fmt.Sprintf("transient-%s", pattern),
		Pattern:   pattern,
		Expansion: strings.TrimSpace(expansion),
		Module:    "command",
	})
	if err != nil {
		return err
	}
	s.AddOutput(session.CommandOutput(fmt.Sprintf("alias %d created", a.ID), false))
	return nil
}

func cmdTimer(c *Client, sessionID int, args string) error {
	if sessionID == 0 {
		return fmt.Errorf("no focused session")
	}
	durText, text, found := strings.Cut(args, " ")
	if !found {
		return fmt.Errorf("usage: timer <duration> <text>")
	}
	dur, err := time.ParseDuration(durText)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", durText, err)
	}
	t, err := c.Wheel.Add(session.TimerConfig{
		Name:      fmt.Sprintf("transient-%s", durText),
		Duration:  dur,
		Session:   sessionID,
		Expansion: strings.TrimSpace(text),
		Module:    "command",
	})
	if err != nil {
		return err
	}
	c.commandResult(fmt.Sprintf("timer %d created", t.ID), false)
	return nil
}

func cmdBindings(c *Client, _ int, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 || fields[0] != "list" {
		return fmt.Errorf("usage: bindings list [--mode <name>]")
	}
	var modeFilter string
	for i := 1; i < len(fields)-1; i++ {
		if fields[i] == "--mode" {
			modeFilter = fields[i+1]
		}
	}

	cfg := c.Config()
	modes := make([]string, 0, len(cfg.Keybindings))
	for mode := range cfg.Keybindings {
		if modeFilter != "" && mode != modeFilter {
			continue
		}
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	if len(modes) == 0 {
		c.commandResult("no keybindings", false)
		return nil
	}
	for _, mode := range modes {
		keys := make([]string, 0, len(cfg.Keybindings[mode]))
		for key := range cfg.Keybindings[mode] {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			c.commandResult(fmt.Sprintf("%s: %s -> %s", mode, key, cfg.Keybindings[mode][key]), false)
		}
	}
	return nil
}

func cmdPy(c *Client, _ int, args string) error {
	if args == "" {
		return fmt.Errorf("usage: py <expr>")
	}
	for _, m := range c.scripts.Modules() {
		if ev, ok := m.(script.Evaluator); ok {
			result, err := ev.Eval(args)
			if err != nil {
				return err
			}
			c.commandResult(result, false)
			return nil
		}
	}
	return fmt.Errorf("no script module provides an evaluator")
}
