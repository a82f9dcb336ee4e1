// Package target implements the declarative process-matching rules used by
// the Process Watcher to decide which OS processes are interesting.
package target

import (
	"path/filepath"
	"regexp"
	"strings"
)

// MatchKind selects which field of a Descriptor a Target's primary
// predicate compares against.
type MatchKind int

const (
	// MatchName matches the process name exactly.
	MatchName MatchKind = iota
	// MatchBinaryPathRegex matches the binary path against a regex.
	MatchBinaryPathRegex
	// MatchShortLivedSubstring matches a short-lived executable name by
	// substring.
	MatchShortLivedSubstring
)

// DisplayNamePolicy selects how a matched process's display name is derived.
type DisplayNamePolicy int

const (
	// DisplayNameDefault uses the matched target name.
	DisplayNameDefault DisplayNamePolicy = iota
	// DisplayNameFirstArgBasename uses the basename of the first
	// command-line argument.
	DisplayNameFirstArgBasename
)

// Target is one declarative process-matching rule, loaded from
// configuration and reloadable without restart. Targets are read-only to
// the Process Watcher.
type Target struct {
	Name            string
	Kind            MatchKind
	BinaryPathRegex *regexp.Regexp
	ShortLivedMatch string

	DisplayNamePolicy  DisplayNamePolicy
	FilterOutCommands  []string
	FilterOutPaths     []string
	FilterOutNames     []string
	MergeWithParentsBy string
}

// Descriptor is the minimal view of a live process the matcher needs.
type Descriptor struct {
	Name       string
	Cmd        []string
	BinaryPath string
}

// Matcher evaluates a process Descriptor against an ordered target list.
// Match ordering follows configuration order; the first matching target
// wins.
type Matcher struct {
	targets []Target
}

// NewMatcher builds a Matcher from an ordered target list.
func NewMatcher(targets []Target) *Matcher {
	return &Matcher{targets: targets}
}

// Match result: the winning target and the derived display name, or ok=false
// if nothing matched (or the match was excluded by a filter-out predicate).
type Match struct {
	Target      Target
	DisplayName string
}

// Match evaluates desc against the target list in configuration order,
// returning the first match not excluded by a filter-out predicate.
func (m *Matcher) Match(desc Descriptor) (Match, bool) {
	for _, t := range m.targets {
		if !matches(t, desc) {
			continue
		}
		if isFilteredOut(t, desc) {
			continue
		}
		return Match{Target: t, DisplayName: displayName(t, desc)}, true
	}
	return Match{}, false
}

func matches(t Target, desc Descriptor) bool {
	switch t.Kind {
	case MatchName:
		return desc.Name == t.Name
	case MatchBinaryPathRegex:
		return t.BinaryPathRegex != nil && t.BinaryPathRegex.MatchString(desc.BinaryPath)
	case MatchShortLivedSubstring:
		return strings.Contains(desc.Name, t.ShortLivedMatch)
	default:
		return false
	}
}

func isFilteredOut(t Target, desc Descriptor) bool {
	cmdline := strings.Join(desc.Cmd, " ")
	for _, s := range t.FilterOutCommands {
		if s != "" && strings.Contains(cmdline, s) {
			return true
		}
	}
	for _, s := range t.FilterOutPaths {
		if s != "" && strings.Contains(desc.BinaryPath, s) {
			return true
		}
	}
	for _, s := range t.FilterOutNames {
		if s != "" && strings.Contains(desc.Name, s) {
			return true
		}
	}
	return false
}

func displayName(t Target, desc Descriptor) string {
	if t.DisplayNamePolicy == DisplayNameFirstArgBasename && len(desc.Cmd) > 1 {
		return filepath.Base(desc.Cmd[1])
	}
	if t.Name != "" {
		return t.Name
	}
	return desc.Name
}

// SharesMergeArg reports whether parent and child descriptors share the
// argument value used for merge-with-parents-by, given the target's
// configured argument name. The argument is looked up positionally: the
// flag name followed immediately by its value in Cmd.
func SharesMergeArg(argName string, parent, child Descriptor) bool {
	if argName == "" {
		return false
	}
	pv, pok := argValue(argName, parent.Cmd)
	cv, cok := argValue(argName, child.Cmd)
	return pok && cok && pv == cv
}

func argValue(name string, cmd []string) (string, bool) {
	for i, a := range cmd {
		if a == name && i+1 < len(cmd) {
			return cmd[i+1], true
		}
	}
	return "", false
}
