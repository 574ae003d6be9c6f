package approval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// ConsolePrompter asks on a terminal. One reader goroutine is shared by all
// prompts so a cancelled prompt does not lose the next line.
type ConsolePrompter struct {
	out io.Writer

	once  sync.Once
	in    io.Reader
	lines chan string
	// readErr is io.EOF or the scanner error. It is set before lines is
	// closed.
	readErr error
}

// NewConsolePrompter prompts on out and reads answers from in.
func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{in: in, out: out}
}

func (p *ConsolePrompter) start() {
	p.lines = make(chan string)
	go func() {
		sc := bufio.NewScanner(p.in)
		for sc.Scan() {
			p.lines <- sc.Text()
		}
		p.readErr = sc.Err()
		if p.readErr == nil {
			p.readErr = io.EOF
		}
		close(p.lines)
	}()
}

// Prompt shows the call and waits for an answer. EOF and cancellation deny.
func (p *ConsolePrompter) Prompt(ctx context.Context, req Request) (Outcome, error) {
	p.once.Do(p.start)

	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(p.out, "\nProposed action [%d]: ", req.Iteration+1)
	_, _ = color.New(color.FgCyan, color.Bold).Fprintln(p.out, req.Tool)
	if req.Rationale != "" {
		fmt.Fprintf(p.out, "  Why:  %s\n", req.Rationale)
	}
	fmt.Fprintf(p.out, "  Args: %s\n", formatArgs(req.Arguments))
	if req.Tier >= 2 {
		_, _ = color.New(color.FgRed).Fprintln(p.out, "  This action can change the system.")
	}
	_, _ = color.New(color.FgYellow).Fprint(p.out, "Execute? [Y/n/s(kip)/or type a new instruction]: ")

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return Outcome{Decision: Deny, Reason: "cancelled", Feedback: "The run was cancelled by the user."}, nil
	case line, ok := <-p.lines:
		if !ok {
			fmt.Fprintln(p.out)
			return Outcome{Decision: Deny, Reason: "input_closed", Feedback: "Input closed before an answer was given."}, nil
		}
		return ParseAnswer(line), nil
	}
}

// ReadLine reads the next input line from the reader shared with Prompt.
// It returns io.EOF once input is closed.
func (p *ConsolePrompter) ReadLine(ctx context.Context) (string, error) {
	p.once.Do(p.start)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", p.readErr
		}
		return line, nil
	}
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{...}"
	}
	s := string(b)
	if len(s) > 400 {
		s = s[:400] + "..."
	}
	return s
}
