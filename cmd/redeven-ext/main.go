package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/floegence/redeven-extensions/internal/auditlog"
	"github.com/floegence/redeven-extensions/internal/consent"
	"github.com/floegence/redeven-extensions/internal/extension"
	"github.com/floegence/redeven-extensions/internal/trust"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "list":
		listCmd(os.Args[2:])
	case "enable":
		toggleCmd("enable", os.Args[2:])
	case "disable":
		toggleCmd("disable", os.Args[2:])
	case "trust":
		trustCmd(os.Args[2:], true)
	case "untrust":
		trustCmd(os.Args[2:], false)
	case "consent":
		consentCmd(os.Args[2:])
	case "new":
		newCmd(os.Args[2:])
	case "audit":
		auditCmd(os.Args[2:])
	case "version":
		fmt.Printf("redeven-ext %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `redeven-ext

Usage:
  redeven-ext list [--all] [--verbose]
  redeven-ext enable <name> --scope <user|workspace>
  redeven-ext disable <name> --scope <user|workspace>
  redeven-ext trust [path]
  redeven-ext untrust [path]
  redeven-ext consent <name> --scope <user|workspace> (--allow | --deny | --revoke)
  redeven-ext new <name>
  redeven-ext audit [--limit N]
  redeven-ext version

Commands:
  list      Refresh the extension cache and print the resolved extensions.
  enable    Enable an extension in the given scope's overlay.
  disable   Disable an extension in the given scope's overlay.
  trust     Mark a workspace root trusted (default: current directory).
  untrust   Revoke trust for a workspace root.
  consent   Record or revoke a consent decision without prompting.
  new       Scaffold a new extension in the user extensions root.
  audit     Print recent trust/consent/refresh decisions.
  version   Print build information.

`)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

type app struct {
	workspace string
	storage   *extension.Storage
	trust     *trust.FileProvider
	audit     *auditlog.Store
	consentDB *consent.Store
	manager   *extension.Manager
	log       *slog.Logger
}

func (a *app) close() {
	if a == nil {
		return
	}
	_ = a.consentDB.Close()
}

// newApp wires the manager with the default on-disk providers. When
// interactive is false, the consent gate runs in its fail-closed
// non-interactive mode.
func newApp(logger *slog.Logger, interactive bool) (*app, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	storage := extension.NewStorage("")
	if err := os.MkdirAll(storage.StateDir(), 0o700); err != nil {
		return nil, fmt.Errorf("init state dir: %w", err)
	}

	audit, err := auditlog.New(auditlog.Options{Logger: logger, StateDir: storage.StateDir()})
	if err != nil {
		return nil, fmt.Errorf("init audit log: %w", err)
	}

	consentDB, err := consent.OpenStore(storage.ConsentDBPath())
	if err != nil {
		return nil, fmt.Errorf("open consent store: %w", err)
	}

	var prompt consent.PromptFunc
	if interactive {
		prompt = consent.InteractivePrompt(os.Stdin, os.Stderr)
	}
	gate := consent.NewGate(consent.GateOptions{
		Store:  consentDB,
		Prompt: prompt,
		Logger: logger,
		Audit:  audit,
	})

	trustProvider := trust.NewFileProvider(storage.TrustFilePath())

	manager, err := extension.NewManager(extension.ManagerOptions{
		Workspace: workspace,
		Storage:   storage,
		Trust:     trustProvider,
		Consent:   gate,
		Logger:    logger,
		Audit:     audit,
	})
	if err != nil {
		_ = consentDB.Close()
		return nil, err
	}

	return &app{
		workspace: workspace,
		storage:   storage,
		trust:     trustProvider,
		audit:     audit,
		consentDB: consentDB,
		manager:   manager,
		log:       logger,
	}, nil
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	all := fs.Bool("all", false, "Include disabled and consent-blocked extensions")
	verbose := fs.Bool("verbose", false, "Print refresh warnings and debug logs")
	_ = fs.Parse(args)

	logger := newLogger(*verbose)
	a, err := newApp(logger, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	notices, err := a.manager.Refresh(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		for _, n := range notices {
			fmt.Fprintf(os.Stderr, "warning: %s\n", noticeString(n))
		}
	}

	var exts []extension.Extension
	if *all {
		exts, err = a.manager.All()
	} else {
		exts, err = a.manager.LoadedExtensions()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}
	if len(exts) == 0 {
		fmt.Println("No extensions loaded.")
		return
	}
	for _, ext := range exts {
		fmt.Print(extension.OutputString(ext, a.workspace))
	}
}

func toggleCmd(verb string, args []string) {
	fs := flag.NewFlagSet(verb, flag.ExitOnError)
	scopeRaw := fs.String("scope", "user", "Scope to write: user|workspace (case-insensitive)")
	_ = fs.Parse(args)

	name := strings.TrimSpace(fs.Arg(0))
	if name == "" {
		fs.Usage()
		os.Exit(2)
	}
	scope, err := extension.ParseScope(*scopeRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --scope: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(false)
	a, err := newApp(logger, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	// Populate the cache so unknown names fail with a clear error.
	if _, err := a.manager.Refresh(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
		os.Exit(1)
	}

	if verb == "enable" {
		err = a.manager.Enable(name, scope)
	} else {
		err = a.manager.Disable(name, scope)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", verb, err)
		os.Exit(1)
	}
	fmt.Printf("Extension %q %sd in %s scope.\n", name, verb, scope)
}

func trustCmd(args []string, trusted bool) {
	fs := flag.NewFlagSet("trust", flag.ExitOnError)
	_ = fs.Parse(args)

	path := strings.TrimSpace(fs.Arg(0))
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve working directory: %v\n", err)
			os.Exit(1)
		}
		path = wd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve path: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(false)
	a, err := newApp(logger, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.trust.SetTrusted(abs, trusted); err != nil {
		fmt.Fprintf(os.Stderr, "trust update failed: %v\n", err)
		os.Exit(1)
	}

	action := auditlog.ActionTrustGranted
	verb := "trusted"
	if !trusted {
		action = auditlog.ActionTrustRevoked
		verb = "untrusted"
	}
	a.audit.Append(auditlog.Entry{Action: action, Workspace: abs, Source: "cli"})
	fmt.Printf("Workspace %s is now %s.\n", abs, verb)
}

func consentCmd(args []string) {
	fs := flag.NewFlagSet("consent", flag.ExitOnError)
	scopeRaw := fs.String("scope", "user", "Scope: user|workspace (case-insensitive)")
	allow := fs.Bool("allow", false, "Record a granted decision")
	deny := fs.Bool("deny", false, "Record a denied decision")
	revoke := fs.Bool("revoke", false, "Delete the recorded decision")
	_ = fs.Parse(args)

	name := strings.TrimSpace(fs.Arg(0))
	modes := 0
	for _, set := range []bool{*allow, *deny, *revoke} {
		if set {
			modes++
		}
	}
	if name == "" || modes != 1 {
		fs.Usage()
		os.Exit(2)
	}
	scope, err := extension.ParseScope(*scopeRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --scope: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(false)
	a, err := newApp(logger, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	ctx := context.Background()
	switch {
	case *revoke:
		err = a.consentDB.Revoke(ctx, a.workspace, name, scope.String())
	case *allow:
		err = a.consentDB.Put(ctx, a.workspace, name, scope.String(), consent.DecisionGranted)
	default:
		err = a.consentDB.Put(ctx, a.workspace, name, scope.String(), consent.DecisionDenied)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "consent update failed: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *revoke:
		fmt.Printf("Consent for %q (%s scope) revoked.\n", name, scope)
	case *allow:
		a.audit.Append(auditlog.Entry{Action: auditlog.ActionConsentGranted, Workspace: a.workspace, Extension: name, Scope: scope.String(), Source: "cli"})
		fmt.Printf("Consent for %q (%s scope) granted.\n", name, scope)
	default:
		a.audit.Append(auditlog.Entry{Action: auditlog.ActionConsentDenied, Workspace: a.workspace, Extension: name, Scope: scope.String(), Source: "cli"})
		fmt.Printf("Consent for %q (%s scope) denied.\n", name, scope)
	}
}

func newCmd(args []string) {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	version := fs.String("version", "0.1.0", "Initial extension version")
	_ = fs.Parse(args)

	name := strings.TrimSpace(fs.Arg(0))
	if name == "" {
		fs.Usage()
		os.Exit(2)
	}
	if !extension.ValidName(name) {
		fmt.Fprintf(os.Stderr, "invalid extension name: %s\n", name)
		os.Exit(2)
	}

	storage := extension.NewStorage("")
	dst := storage.ExtensionDir(name)
	if _, err := os.Stat(dst); err == nil {
		fmt.Fprintf(os.Stderr, "extension already exists: %s\n", dst)
		os.Exit(1)
	}

	// Stage next to the destination, then rename into place so a
	// partially written extension is never visible to a concurrent
	// refresh. Staging on the same filesystem keeps the rename atomic.
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "init extensions root: %v\n", err)
		os.Exit(1)
	}
	staging, err := os.MkdirTemp(filepath.Dir(dst), ".staging-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "staging failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	desc := extension.Descriptor{Name: name, Version: strings.TrimSpace(*version)}
	buf, err := json.MarshalIndent(&desc, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode descriptor: %v\n", err)
		os.Exit(1)
	}
	buf = append(buf, '\n')
	if err := os.WriteFile(filepath.Join(staging, extension.ConfigFileName), buf, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write descriptor: %v\n", err)
		os.Exit(1)
	}

	if err := os.Rename(staging, dst); err != nil {
		fmt.Fprintf(os.Stderr, "install failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created extension %q at %s\n", name, dst)
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	limit := fs.Int("limit", 50, "Maximum entries to print")
	_ = fs.Parse(args)

	logger := newLogger(false)
	storage := extension.NewStorage("")
	store, err := auditlog.New(auditlog.Options{Logger: logger, StateDir: storage.StateDir()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open audit log: %v\n", err)
		os.Exit(1)
	}
	entries, err := store.List(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read audit log: %v\n", err)
		os.Exit(1)
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s %s", e.CreatedAt, e.Action)
		if e.Extension != "" {
			line += " " + e.Extension
		}
		if e.Scope != "" {
			line += " (" + e.Scope + ")"
		}
		if e.Error != "" {
			line += " error=" + e.Error
		}
		fmt.Println(line)
	}
}

func noticeString(n extension.Notice) string {
	parts := make([]string, 0, 3)
	if n.Name != "" {
		parts = append(parts, n.Name)
	}
	if n.Path != "" {
		parts = append(parts, n.Path)
	}
	parts = append(parts, n.Message)
	return strings.Join(parts, ": ")
}
