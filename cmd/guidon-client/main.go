// guidon-client issues one command on the web channel and follows it to a
// terminal outcome: optimistic apply for visible commands, polling with
// backoff, then confirmation or rollback.
//
//	guidon-client --session S draw x=10 y=20 color=red
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"guidon/internal/client"
	"guidon/internal/interaction"
	"guidon/internal/logging"
	"guidon/internal/pending"
	"guidon/internal/reconcile"
	"guidon/internal/registry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()

	var (
		serverURL   string
		session     string
		token       string
		webhookURL  string
		commandsRef string
		timeout     time.Duration
		logLevel    string
	)
	flags := pflag.NewFlagSet("guidon-client", pflag.ContinueOnError)
	flags.StringVar(&serverURL, "server", envOr("GUIDON_URL", "http://localhost:8080"), "guidon server base URL")
	flags.StringVar(&session, "session", os.Getenv("GUIDON_SESSION"), "web session id")
	flags.StringVar(&token, "token", "", "correlation token (generated when empty)")
	flags.StringVar(&webhookURL, "webhook", "", "webhook URL for the result")
	flags.StringVar(&commandsRef, "commands", os.Getenv("COMMANDS_FILE"), "command registry YAML (built-in table when empty)")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "per-request HTTP timeout")
	flags.StringVar(&logLevel, "log-level", "warn", "log level")
	flags.BoolP("help", "h", false, "show help")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flags)
			return nil
		}
		return err
	}
	if help, _ := flags.GetBool("help"); help || flags.NArg() == 0 {
		printHelp(flags)
		return nil
	}

	req, err := buildRequest(flags.Args())
	if err != nil {
		return err
	}
	req.Token = token
	req.WebhookURL = webhookURL

	logger, err := logging.New(logLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := registry.Default()
	if commandsRef != "" {
		if reg, err = registry.Load(commandsRef); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(serverURL, session, timeout)
	ledger := pending.New(pending.DefaultCeiling, logger.Named("pending"))
	evictCtx, stopEvict := context.WithCancel(ctx)
	evicted := make(chan struct{})
	go func() {
		ledger.Run(evictCtx, time.Second)
		close(evicted)
	}()
	defer func() {
		stopEvict()
		<-evicted
	}()

	notices := reconcile.NotifierFunc(func(n reconcile.Notice) {
		fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", n.Outcome, n.Command, n.Message)
	})
	r := reconcile.New(api, reg, ledger, api, notices, reconcile.Options{Logger: logger.Named("reconcile")})
	defer r.Close()

	res, err := r.Do(ctx, req)
	if err != nil {
		logger.Debug("command did not complete", zap.Error(err))
	}
	out := map[string]any{
		"token":    res.Token,
		"outcome":  res.Outcome,
		"attempts": res.Attempts,
	}
	if res.Status != "" {
		out["status"] = res.Status
	}
	if len(res.Payload) > 0 {
		out["payload"] = res.Payload
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		return encErr
	}
	if err != nil {
		return err
	}
	if res.Outcome != reconcile.Confirmed {
		return fmt.Errorf("command %s %s", req.Command, res.Outcome)
	}
	return nil
}

// buildRequest turns "draw x=10 y=20 color=red" into a request.
func buildRequest(args []string) (interaction.Request, error) {
	opts, err := interaction.ParseArgs(args[1:])
	if err != nil {
		return interaction.Request{}, err
	}
	return interaction.Request{Command: args[0], Options: opts}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printHelp(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: guidon-client [flags] COMMAND [name=value ...]")
	fmt.Fprintln(os.Stderr)
	flags.PrintDefaults()
}
