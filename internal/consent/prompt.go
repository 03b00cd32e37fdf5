package consent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// InteractivePrompt returns a PromptFunc that asks on out and reads a
// y/n answer from in. It returns nil when in is not a terminal, which
// puts the gate into its non-interactive (fail-closed) mode.
func InteractivePrompt(in *os.File, out io.Writer) PromptFunc {
	if in == nil || !term.IsTerminal(int(in.Fd())) {
		return nil
	}
	reader := bufio.NewReader(in)
	return func(ctx context.Context, req Request) (bool, error) {
		fmt.Fprintf(out, "Extension %q wants to add settings", req.Extension)
		if ws := strings.TrimSpace(req.Workspace); ws != "" {
			fmt.Fprintf(out, " in workspace %s", ws)
		}
		fmt.Fprintln(out, ":")
		for _, s := range req.Settings {
			fmt.Fprintf(out, "  - %s\n", s)
		}
		fmt.Fprint(out, "Allow? [y/N] ")

		type answer struct {
			allow bool
			err   error
		}
		// On cancellation the goroutine stays blocked in ReadString and
		// consumes the next stdin line before exiting; the buffered
		// channel lets it finish without a receiver.
		ch := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			if err != nil {
				ch <- answer{err: err}
				return
			}
			v := strings.ToLower(strings.TrimSpace(line))
			ch <- answer{allow: v == "y" || v == "yes"}
		}()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case a := <-ch:
			if a.err != nil {
				return false, a.err
			}
			return a.allow, nil
		}
	}
}

// StaticPrompt answers every request with a fixed decision. Useful for
// tests and for the CLI's explicit --allow/--deny consent recording.
func StaticPrompt(allow bool) PromptFunc {
	return func(context.Context, Request) (bool, error) {
		return allow, nil
	}
}
