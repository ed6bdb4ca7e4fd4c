// assistant-cli is an interactive terminal session against the engine:
// it provisions the assistant, replays the thread history, resumes any
// interrupted run and then loops prompt -> run -> rendered steps.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/cmskit/assistant-engine/internal/assistant"
	"github.com/cmskit/assistant-engine/internal/config"
	"github.com/cmskit/assistant-engine/internal/functions"
	"github.com/cmskit/assistant-engine/internal/openai"
	"github.com/cmskit/assistant-engine/internal/run"
	"github.com/cmskit/assistant-engine/internal/session"
	"github.com/cmskit/assistant-engine/internal/storage/memory"
	"github.com/cmskit/assistant-engine/internal/tokens"
)

func main() {
	_ = godotenv.Load()

	user := flag.String("user", "cli", "session key for the thread binding")
	clear := flag.Bool("clear", false, "discard the thread before starting")
	verbose := flag.Bool("verbose", false, "log engine activity to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.OpenAI.APIKey == "" {
		log.Fatal("openai.api_key is required")
	}

	var clientOpts []openai.ClientOption
	if cfg.OpenAI.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	client := openai.NewClient(cfg.OpenAI.APIKey, clientOpts...)

	// The CLI session is ephemeral: thread and assistant bindings live for
	// one invocation.
	store := memory.New()
	svc := session.NewService(client, store, tokens.NewEstimator(), logger,
		cfg.Assistant.Model, cfg.Assistant.MaxMessageTokens)

	builtins, err := functions.Builtins(functions.SiteInfo{
		Name:        cfg.Site.Name,
		Description: cfg.Site.Description,
		URL:         cfg.Site.URL,
	})
	if err != nil {
		log.Fatalf("Failed to build functions: %v", err)
	}

	ctx := context.Background()
	registry := assistant.NewRegistry()
	a, err := svc.EnsureAssistant(ctx, registry, session.BootstrapConfig{
		Name:            cfg.Assistant.Name,
		Description:     cfg.Assistant.Description,
		Instructions:    cfg.Assistant.Instructions,
		Model:           cfg.Assistant.Model,
		Functions:       builtins,
		CodeInterpreter: cfg.Assistant.CodeInterpreter,
	})
	if err != nil {
		log.Fatalf("Failed to provision assistant: %v", err)
	}

	engine := run.NewEngine(client, registry, logger,
		run.WithPollInterval(cfg.Run.PollInterval))

	cli := &cli{svc: svc, engine: engine, assistantID: a.ID}

	threadID, err := svc.CreateOrGetThread(ctx, *user)
	if err != nil {
		log.Fatalf("Failed to open thread: %v", err)
	}
	if *clear {
		threadID, err = svc.Clear(ctx, threadID, *user)
		if err != nil {
			log.Fatalf("Failed to clear thread: %v", err)
		}
	}

	if err := cli.printHistory(ctx, threadID); err != nil {
		log.Fatalf("Failed to fetch history: %v", err)
	}
	cli.resume(ctx, threadID)
	cli.loop(ctx, threadID)
}

type cli struct {
	svc         *session.Service
	engine      *run.Engine
	assistantID string
}

func (c *cli) printHistory(ctx context.Context, threadID string) error {
	history, err := c.svc.History(ctx, threadID)
	if err != nil {
		return err
	}
	for i := range history {
		c.printMessage(&history[i])
	}
	return nil
}

// resume drains any run interrupted by a previous invocation so its late
// steps are not lost.
func (c *cli) resume(ctx context.Context, threadID string) {
	steps, err := c.engine.Resume(ctx, threadID)
	if err != nil {
		if !errors.Is(err, run.ErrNothingToResume) {
			fmt.Fprintf(os.Stderr, "warning: resume failed: %v\n", err)
		}
		return
	}
	fmt.Println("(resuming interrupted run)")
	c.renderSteps(ctx, threadID, steps)
}

func (c *cli) loop(ctx context.Context, threadID string) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "exit" || text == "quit" {
			return
		}

		if _, err := c.svc.PostUserMessage(ctx, threadID, text); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			continue
		}

		steps, err := c.engine.Run(ctx, threadID, c.assistantID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: run failed: %v\n", err)
			continue
		}
		c.renderSteps(ctx, threadID, steps)
	}
}

func (c *cli) renderSteps(ctx context.Context, threadID string, steps <-chan run.StepResult) {
	for res := range steps {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", res.Err)
			return
		}
		c.printStep(ctx, threadID, res.Step)
	}
}

// printStep renders one run step: finished message-creation steps as the
// message they produced, tool-call steps as the called function names.
func (c *cli) printStep(ctx context.Context, threadID string, step *openai.RunStep) {
	switch step.Type {
	case openai.StepTypeMessageCreation:
		if step.ShouldWait() || step.StepDetails.MessageCreation == nil {
			return
		}
		msg, err := c.svc.Message(ctx, threadID, step.StepDetails.MessageCreation.MessageID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			return
		}
		c.printMessage(msg)
	case openai.StepTypeToolCalls:
		if step.ShouldWait() {
			return
		}
		for _, call := range step.StepDetails.ToolCalls {
			switch call.Type {
			case openai.ToolTypeFunction:
				fmt.Printf("  [called %s]\n", call.Function.Name)
			case openai.ToolTypeCodeInterpreter:
				fmt.Println("  [ran code interpreter]")
			}
		}
	}
}

func (c *cli) printMessage(msg *openai.ThreadMessage) {
	ts := time.Now().Format("15:04")
	if msg.CreatedAt > 0 {
		ts = time.Unix(msg.CreatedAt, 0).Format("15:04")
	}
	for _, content := range msg.Content {
		if content.Text == nil {
			continue
		}
		fmt.Printf("%s %s: %s\n", ts, msg.Role, content.Text.Value)
	}
}
