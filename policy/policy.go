// Package policy implements the security policy evaluator: stateless
// predicates over resource requests, command strings and paths. The only side
// effect is an append to the audit sink when a violation is found.
package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	units "github.com/docker/go-units"

	"github.com/projecteru2/burrow/audit"
	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/types"
)

// Modes. Permissive short-circuits every check to "no violations".
const (
	ModeStrict     = "strict"
	ModePermissive = "permissive"
)

// Violation describes one rejected aspect of a request.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (v Violation) String() string { return v.Field + ": " + v.Reason }

// Join renders violations as a single human-readable message.
func Join(vs []Violation) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}

// Evaluator validates requests against the configured limits.
type Evaluator struct {
	conf config.PolicyConfig
	sink *audit.Sink
}

// New creates an Evaluator. sink may be nil (violations are then unrecorded,
// used by tests).
func New(conf config.PolicyConfig, sink *audit.Sink) *Evaluator {
	return &Evaluator{conf: conf, sink: sink}
}

// ValidateResources checks a guest's resource request against the ceilings.
func (e *Evaluator) ValidateResources(ctx context.Context, cfg *types.GuestConfig) []Violation {
	if e.conf.Mode == ModePermissive {
		return nil
	}
	var vs []Violation
	if cfg.CPU <= 0 {
		vs = append(vs, Violation{Field: "cpu", Reason: "must be positive"})
	} else if e.conf.MaxCPU > 0 && cfg.CPU > e.conf.MaxCPU {
		vs = append(vs, Violation{Field: "cpu", Reason: fmt.Sprintf("%d exceeds ceiling %d", cfg.CPU, e.conf.MaxCPU)})
	}
	if cfg.Memory <= 0 {
		vs = append(vs, Violation{Field: "memory", Reason: "must be positive"})
	} else if e.conf.MaxMemory > 0 && cfg.Memory > e.conf.MaxMemory {
		vs = append(vs, Violation{
			Field:  "memory",
			Reason: fmt.Sprintf("%s exceeds ceiling %s", units.BytesSize(float64(cfg.Memory)), units.BytesSize(float64(e.conf.MaxMemory))),
		})
	}
	e.record(ctx, cfg.Name, "validate_resources", vs)
	return vs
}

// ValidateCommand checks a shell command against the ban-set of dangerous
// substrings.
func (e *Evaluator) ValidateCommand(ctx context.Context, guestID, text string) []Violation {
	if e.conf.Mode == ModePermissive {
		return nil
	}
	var vs []Violation
	for _, banned := range e.conf.BannedCommands {
		if strings.Contains(text, banned) {
			vs = append(vs, Violation{Field: "command", Reason: fmt.Sprintf("contains banned substring %q", banned)})
		}
	}
	e.record(ctx, guestID, "validate_command", vs)
	return vs
}

// ValidatePath reports whether path falls under one of the allowed roots.
// Relative paths never validate in strict mode.
func (e *Evaluator) ValidatePath(path string) bool {
	if e.conf.Mode == ModePermissive {
		return true
	}
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) {
		return false
	}
	for _, root := range e.conf.AllowedPaths {
		root = filepath.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (e *Evaluator) record(ctx context.Context, guestID, op string, vs []Violation) {
	if e.sink == nil || len(vs) == 0 {
		return
	}
	e.sink.Record(ctx, audit.Event{
		Event:     "policy_violation",
		GuestID:   guestID,
		Operation: op,
		Detail:    Join(vs),
	})
}
