/*
Package main is the terminal client for the Support Chat server.

It restores the saved login, keeps one broker connection open for the current identity,
and renders either the participant's own conversation or, for support operators, the
list of participant conversations. Lines starting with '/' are commands; any other line
is sent as a chat message (participants) or as a reply to the selected conversation
(operators).
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"supportchat/internal/app/account"
	"supportchat/internal/app/session"
	"supportchat/internal/configs"
	"supportchat/internal/pkg/logx"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML client profile")
	serverURL := flag.String("server", "", "server base URL (overrides the profile)")
	stateDir := flag.String("state", "", "directory for the saved session (overrides the profile)")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	profile, err := configs.LoadClientProfile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load client profile: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		profile.ServerURL = *serverURL
	}
	if *stateDir != "" {
		profile.StateDir = *stateDir
	}
	profile.Debug = profile.Debug || *debug
	if err := profile.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Invalid client profile: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so they do not interleave with the conversation on stdout.
	logx.InitGlobalLoggerTo(os.Stderr, profile.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := account.NewFileStore(profile.StateDir)
	clientID, err := store.ClientID()
	if err != nil {
		logx.Fatal(err, "Failed to load client id", "path", store.Path())
	}

	provider, err := account.NewProvider(profile.ServerURL, store, &http.Client{Timeout: 20 * time.Second})
	if err != nil {
		logx.Fatal(err, "Failed to create account provider")
	}

	engine := session.NewEngine(session.EngineOptions{
		Provider:   provider,
		Dialer:     session.NewWSDialer(profile.WSURL()),
		ClientID:   clientID,
		RetryDelay: profile.ReconnectDelay,
		EchoWindow: profile.EchoWindow,
	})

	con := newConsole(engine, provider, os.Stdout)
	defer con.watch()()

	// Restore shares the engine's coordinator so an expired saved session is reported
	// like any other forced logout.
	if err := provider.Restore(ctx, engine.Coordinator()); err != nil {
		logx.Warn("Could not restore the saved session; continuing as guest", "error", err.Error())
	}

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	con.greet()
	con.loop(ctx, os.Stdin)

	stop()
	if err := <-done; err != nil {
		logx.Error(err, "Engine stopped with error")
	}
}
