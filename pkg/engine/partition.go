package engine

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultDenyPatterns lists package refs known to misbehave when installed
// concurrently: GPU drivers, virtualization platforms, launcher installers,
// database servers and VPN clients. Patterns are matched case-insensitively
// against the whole ref.
var DefaultDenyPatterns = []string{
	"nvidia.*",
	"amd.*driver*",
	"intel.*driver*",
	"*virtualbox*",
	"vmware.*",
	"docker.dockerdesktop",
	"*hyper-v*",
	"epicgames.*",
	"valve.steam",
	"ubisoft.connect",
	"electronicarts.*",
	"microsoft.sqlserver*",
	"postgresql.*",
	"oracle.mysql*",
	"mongodb.server",
	"*openvpn*",
	"wireguard.*",
	"*nordvpn*",
	"*expressvpn*",
}

// Denylist is an immutable, ordered set of glob patterns. The zero value
// matches nothing.
type Denylist struct {
	patterns []string
	globs    []glob.Glob
}

// NewDenylist compiles patterns in order. Empty patterns are ignored.
func NewDenylist(patterns ...string) (Denylist, error) {
	return Denylist{}.With(patterns...)
}

// DefaultDenylist returns the built-in denylist.
func DefaultDenylist() Denylist {
	d, err := NewDenylist(DefaultDenyPatterns...)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in deny pattern: %v", err))
	}
	return d
}

// With returns a new denylist with extra patterns appended. The receiver is
// not modified.
func (d Denylist) With(extra ...string) (Denylist, error) {
	out := Denylist{
		patterns: make([]string, len(d.patterns), len(d.patterns)+len(extra)),
		globs:    make([]glob.Glob, len(d.globs), len(d.globs)+len(extra)),
	}
	copy(out.patterns, d.patterns)
	copy(out.globs, d.globs)

	for _, p := range extra {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return Denylist{}, NewPermanentError("invalid deny pattern", err).
				WithCode(ErrCodeValidation).WithResource(p)
		}
		out.patterns = append(out.patterns, p)
		out.globs = append(out.globs, g)
	}

	return out, nil
}

// Patterns returns a copy of the patterns in match order.
func (d Denylist) Patterns() []string {
	out := make([]string, len(d.patterns))
	copy(out, d.patterns)
	return out
}

// Len returns the number of patterns.
func (d Denylist) Len() int {
	return len(d.patterns)
}

// Match returns the first pattern matching ref.
func (d Denylist) Match(ref string) (string, bool) {
	ref = strings.ToLower(ref)
	for i, g := range d.globs {
		if g.Match(ref) {
			return d.patterns[i], true
		}
	}
	return "", false
}

// Partitioned holds app actions split by concurrency safety. Order within each
// group follows the input order.
type Partitioned struct {
	Parallel   []Action
	Sequential []Action
}

// Len returns the total number of partitioned actions.
func (p Partitioned) Len() int {
	return len(p.Parallel) + len(p.Sequential)
}

// Partition splits the app actions in actions into parallel-safe and
// sequential groups. Non-app actions and actions without a ref are dropped.
func Partition(actions []Action, deny Denylist) Partitioned {
	out := Partitioned{
		Parallel:   make([]Action, 0, len(actions)),
		Sequential: make([]Action, 0),
	}

	for _, a := range actions {
		if a.Type != ActionApp || a.Ref == "" {
			continue
		}
		if _, denied := deny.Match(a.Ref); denied {
			out.Sequential = append(out.Sequential, a)
			continue
		}
		out.Parallel = append(out.Parallel, a)
	}

	return out
}

// Pending returns the app actions of plan that still need an install: failed
// app actions with a ref.
func Pending(plan *Plan) []Action {
	return plan.AppActions(StatusFail)
}
