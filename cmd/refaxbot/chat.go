package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/refaxbot/refaxbot/internal/config"
	"github.com/refaxbot/refaxbot/internal/llm"
	"github.com/refaxbot/refaxbot/internal/memory"
	"github.com/refaxbot/refaxbot/internal/session"
)

type chatOptions struct {
	message      string
	conversation string
	phone        string
	details      bool
}

func chat(ctx context.Context, cfg *config.Config, opts chatOptions, out io.Writer) error {
	client, err := llm.NewOpenAIClient(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	core, err := newStack(cfg, inMemoryStores(), client, nil)
	if err != nil {
		return err
	}

	c := &chatSession{core: core, opts: opts, out: out}
	if strings.TrimSpace(opts.message) != "" {
		return c.turn(ctx, opts.message)
	}
	return c.interactive(ctx)
}

type chatSession struct {
	core *stack
	opts chatOptions
	out  io.Writer
}

func (c *chatSession) sender() session.MessageContext {
	return session.MessageContext{UserID: c.opts.phone, PhoneNumber: c.opts.phone}
}

func (c *chatSession) turn(ctx context.Context, text string) error {
	res, err := c.core.sessions.ProcessMessageDetailed(ctx, c.opts.conversation, text, c.sender())
	if res == nil {
		return err
	}

	fmt.Fprintf(c.out, "\n%s %s\n", appName, res.ResponseText)
	for _, s := range res.Suggestions {
		fmt.Fprintf(c.out, "  · %s\n", s)
	}
	if c.opts.details {
		fmt.Fprintf(c.out, "  [intent=%s confidence=%.2f functions=%s phase=%s]\n",
			res.Intent, res.Metadata.ConfidenceScore,
			strings.Join(res.Metadata.FunctionsCalled, ","), res.ConversationState.Phase)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *chatSession) interactive(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tú> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".refaxbot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "salir",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(c.out, "%s: escribe \"salir\" para terminar.\n", appName)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return c.end(ctx, memory.OutcomeAbandoned)
			}
			return fmt.Errorf("reading input: %w", err)
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case "salir", "exit", "quit":
			return c.end(ctx, memory.OutcomeCompleted)
		}

		if err := c.turn(ctx, input); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *chatSession) end(ctx context.Context, outcome memory.Outcome) error {
	summary, err := c.core.sessions.EndSession(ctx, c.opts.conversation, outcome)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if summary != nil {
		fmt.Fprintf(c.out, "conversación cerrada (%s, %d mensajes)\n", outcome, summary.MessageCount)
	}
	return nil
}
