/*
Package main is the account administration tool for the Support Chat server.

Accounts are provisioned out of band: there is no self-registration endpoint. The tool
creates CLIENT and EMPLOYEE accounts and resets passwords directly in the account
database, using the same bcrypt hashing as the login handler.

Usage:

	supportadmin create-user -username alice -password s3cret-pass -role EMPLOYEE
	supportadmin set-password -username alice -password n3w-pass
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"supportchat/internal/app/db"
	"supportchat/internal/app/user"
	"supportchat/internal/configs"
	"supportchat/internal/pkg/logx"
)

const (
	maxUsernameLength = 32
	minPasswordLength = 8
)

var errUsage = errors.New("usage: supportadmin <create-user|set-password> [flags]")

// accountStore is the subset of db.Queries the tool writes through.
type accountStore interface {
	CreateUser(ctx context.Context, arg db.CreateUserParams) (db.User, error)
	UpdatePassword(ctx context.Context, username, passwordHash string) (bool, error)
}

func main() {
	_ = godotenv.Load()

	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logx.InitGlobalLoggerTo(os.Stderr, cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to open account database")
	}
	defer pool.Close()

	if err := run(ctx, os.Args[1:], db.New(pool), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		pool.Close()
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, store accountStore, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "create-user":
		return createUser(ctx, args[1:], store, out)
	case "set-password":
		return setPassword(ctx, args[1:], store, out)
	default:
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}
}

func createUser(ctx context.Context, args []string, store accountStore, out io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	username := fs.String("username", "", "login name")
	password := fs.String("password", "", "initial password")
	roleName := fs.String("role", string(user.RoleClient), "CLIENT or EMPLOYEE")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := validateCredentials(*username, *password); err != nil {
		return err
	}
	role, ok := user.ParseRole(*roleName)
	if !ok || role == user.RoleGuest {
		return fmt.Errorf("unknown role %q: want CLIENT or EMPLOYEE", *roleName)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	created, err := store.CreateUser(ctx, db.CreateUserParams{
		Username:     *username,
		PasswordHash: string(hash),
		Role:         string(role),
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("username %q is already taken", *username)
		}
		return fmt.Errorf("create user: %w", err)
	}

	logx.Info("Account created", "username", created.Username, "role", created.Role)
	fmt.Fprintf(out, "created %s (%s)\n", created.Username, created.Role)
	return nil
}

func setPassword(ctx context.Context, args []string, store accountStore, out io.Writer) error {
	fs := flag.NewFlagSet("set-password", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	username := fs.String("username", "", "login name")
	password := fs.String("password", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := validateCredentials(*username, *password); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	found, err := store.UpdatePassword(ctx, *username, string(hash))
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if !found {
		return fmt.Errorf("no account named %q", *username)
	}

	logx.Info("Password updated", "username", *username)
	fmt.Fprintf(out, "password updated for %s\n", *username)
	return nil
}

func validateCredentials(username, password string) error {
	if username == "" || len(username) > maxUsernameLength {
		return fmt.Errorf("username must be 1-%d characters", maxUsernameLength)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}
