package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"relay/internal/chat"
)

var (
	titleStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("230")).
			Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	toolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Execute runs a single prompt in the default session and streams the reply
// to out.
func (g *Gateway) Execute(ctx context.Context, prompt string, out io.Writer) error {
	res, err := g.Turn(ctx, DefaultSession, g.streamInput(prompt, out))
	if err != nil {
		return err
	}
	g.printFooter(out, res)
	return nil
}

// Run is the interactive loop. It returns on /exit, end of input or when
// ctx is canceled.
func (g *Gateway) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	info := g.Info()
	fmt.Fprintln(out, titleStyle.Render("relay chat"))
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("provider=%s model=%s tools=%d format=%s",
		info.Provider, info.Model, len(info.Tools), info.Capabilities.ToolCallFormat)))
	fmt.Fprintln(out, dimStyle.Render("Type /exit to quit, /clear to reset context, /usage for token totals."))

	if c, ok := in.(io.Closer); ok {
		// unblocks the scanner
		go func() {
			<-ctx.Done()
			_ = c.Close()
		}()
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch input {
		case "/exit", "exit", "quit":
			return nil
		case "/clear":
			if err := g.Clear(ctx, DefaultSession); err != nil {
				fmt.Fprintln(out, errorStyle.Render("error: "+err.Error()))
				continue
			}
			fmt.Fprintln(out, dimStyle.Render("context cleared"))
			continue
		case "/usage":
			u, turns := g.Usage()
			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d turns, %d prompt + %d completion = %d tokens",
				turns, u.PromptTokens, u.CompletionTokens, u.TotalTokens)))
			continue
		}

		res, err := g.Turn(ctx, DefaultSession, g.streamInput(input, out))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var te *chat.TurnError
			if errors.As(err, &te) && te.Partial != "" {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, errorStyle.Render("error: "+err.Error()))
			continue
		}
		g.printFooter(out, res)
	}
}

// streamInput prints text as it arrives and a line per tool result.
func (g *Gateway) streamInput(text string, out io.Writer) chat.Input {
	return chat.Input{
		Text: text,
		OnText: func(s string) {
			fmt.Fprint(out, s)
		},
		OnEvent: func(e chat.Event) {
			if e.Kind != chat.EventToolCompleted {
				return
			}
			status := "ok"
			if !e.Success {
				status = "failed"
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, toolStyle.Render(fmt.Sprintf("  ↳ %s %s", e.ToolName, status)))
		},
	}
}

func (g *Gateway) printFooter(out io.Writer, res *chat.Result) {
	fmt.Fprintln(out)
	switch res.StopReason {
	case chat.StopLoopBound:
		// streamed text never carries the truncation notice
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("[stopped after %d tool rounds]", res.Iterations)))
	case chat.StopMiddleware:
		fmt.Fprintln(out, dimStyle.Render("[answered by middleware]"))
	}
}
