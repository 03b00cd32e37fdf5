package consent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/floegence/redeven-extensions/internal/auditlog"
)

// Request describes the extension asking for consent.
type Request struct {
	Workspace string
	Extension string
	Scope     string

	// Settings is a human-readable summary of the configuration
	// surface the extension declares, shown to the user when prompting.
	Settings []string
}

// PromptFunc obtains an interactive consent answer. A nil PromptFunc
// marks a non-interactive execution context.
type PromptFunc func(ctx context.Context, req Request) (bool, error)

// Outcome is the gate's answer for one (workspace, extension, scope).
type Outcome struct {
	Decision Decision

	// TrustDenied marks a denial caused by an untrusted workspace
	// rather than a recorded user decision. It is never persisted, so
	// granting trust later re-opens the question.
	TrustDenied bool

	// Source records how the decision was obtained: "persisted",
	// "interactive", "non_interactive", or "trust".
	Source string
}

func (o Outcome) Granted() bool {
	return o.Decision == DecisionGranted
}

type GateOptions struct {
	Store  *Store
	Prompt PromptFunc
	// AllowNonInteractive flips the fail-closed policy default for
	// non-interactive contexts to an explicit allow.
	AllowNonInteractive bool
	Logger              *slog.Logger
	Audit               *auditlog.Store
}

// Gate is the consent state machine. Granted and Denied are terminal
// for the session; Reset (called at the start of each refresh) returns
// undecided keys to Unknown so persisted state is re-read.
type Gate struct {
	store               *Store
	prompt              PromptFunc
	allowNonInteractive bool
	log                 *slog.Logger
	audit               *auditlog.Store

	mu      sync.Mutex
	session map[string]Outcome
}

func NewGate(opts GateOptions) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:               opts.Store,
		prompt:              opts.Prompt,
		allowNonInteractive: opts.AllowNonInteractive,
		log:                 logger,
		audit:               opts.Audit,
		session:             map[string]Outcome{},
	}
}

// Reset clears the session cache. Callers invoke it at the refresh
// boundary; it is the only path by which a terminal session decision
// is re-evaluated.
func (g *Gate) Reset() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session = map[string]Outcome{}
}

// Check runs the state machine for one key. It fails closed: any
// failure to determine consent yields Denied alongside the error, and
// the error never upgrades to Granted.
func (g *Gate) Check(ctx context.Context, req Request, trusted bool) (Outcome, error) {
	if g == nil {
		return Outcome{Decision: DecisionDenied, Source: "error"}, errors.New("nil consent gate")
	}
	req.Extension = strings.TrimSpace(req.Extension)
	if req.Extension == "" {
		return Outcome{Decision: DecisionDenied, Source: "error"}, errors.New("missing extension name")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := sessionKey(req)
	if out, ok := g.session[key]; ok {
		return out, nil
	}

	if g.store != nil {
		d, ok, err := g.store.Get(ctx, req.Workspace, req.Extension, req.Scope)
		if err != nil {
			return Outcome{Decision: DecisionDenied, Source: "error"}, err
		}
		if ok {
			out := Outcome{Decision: d, Source: "persisted"}
			g.session[key] = out
			return out, nil
		}
	}

	if !trusted {
		out := Outcome{Decision: DecisionDenied, TrustDenied: true, Source: "trust"}
		g.session[key] = out
		return out, nil
	}

	if g.prompt != nil {
		allow, err := g.prompt(ctx, req)
		if err != nil {
			return Outcome{Decision: DecisionDenied, Source: "error"}, err
		}
		out, err := g.recordLocked(ctx, req, allow, "interactive")
		g.session[key] = out
		return out, err
	}

	// Non-interactive execution context: fail closed unless the caller
	// supplied an explicit allow.
	if g.allowNonInteractive {
		out, err := g.recordLocked(ctx, req, true, "non_interactive")
		g.session[key] = out
		return out, err
	}
	out := Outcome{Decision: DecisionDenied, Source: "non_interactive"}
	g.session[key] = out
	g.appendAudit(req, out)
	return out, nil
}

// recordLocked persists an explicit decision and audits it. The policy
// default denial above is deliberately not persisted, so a later
// interactive run still prompts.
func (g *Gate) recordLocked(ctx context.Context, req Request, allow bool, source string) (Outcome, error) {
	d := DecisionDenied
	if allow {
		d = DecisionGranted
	}
	out := Outcome{Decision: d, Source: source}
	if g.store != nil {
		if err := g.store.Put(ctx, req.Workspace, req.Extension, req.Scope, d); err != nil {
			g.log.Warn("consent persist failed", "extension", req.Extension, "error", err)
			// The in-session decision stands; only durability failed.
			g.appendAudit(req, out)
			return out, err
		}
	}
	g.appendAudit(req, out)
	return out, nil
}

func (g *Gate) appendAudit(req Request, out Outcome) {
	if g.audit == nil {
		return
	}
	action := auditlog.ActionConsentDenied
	if out.Granted() {
		action = auditlog.ActionConsentGranted
	}
	g.audit.Append(auditlog.Entry{
		Action:    action,
		Workspace: req.Workspace,
		Extension: req.Extension,
		Scope:     req.Scope,
		Source:    out.Source,
	})
}

func sessionKey(req Request) string {
	return strings.Join([]string{
		strings.TrimSpace(req.Workspace),
		strings.TrimSpace(req.Extension),
		strings.TrimSpace(req.Scope),
	}, "\x00")
}
