package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-oralhistory/internal/config"
	"github.com/loqalabs/loqa-oralhistory/internal/credentials"
)

var version = "0.1.0-dev"

const usage = `usage: loqa-users <command> [flags]

commands:
  list                                   list accounts
  add -username U -password P [-name N] [-role R]
  remove -username U
  verify -username U -password P
  version`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	if cmd == "version" {
		fmt.Println(version)
		return
	}

	var (
		configPath string
		username   string
		password   string
		name       string
		role       string
	)
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	switch cmd {
	case "add":
		fs.StringVar(&username, "username", "", "Account username")
		fs.StringVar(&password, "password", "", "Account password")
		fs.StringVar(&name, "name", "", "Display name")
		fs.StringVar(&role, "role", "pesquisador", "Role label")
	case "remove":
		fs.StringVar(&username, "username", "", "Account username")
	case "verify":
		fs.StringVar(&username, "username", "", "Account username")
		fs.StringVar(&password, "password", "", "Account password")
	case "list":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", cmd, usage)
		os.Exit(2)
	}
	fs.Parse(os.Args[2:])

	if err := run(cmd, configPath, username, password, name, role); err != nil {
		color.Red("%s failed: %v", cmd, err)
		os.Exit(1)
	}
}

func run(cmd, configPath, username, password, name, role string) error {
	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := credentials.Open(ctx, cfg.Credentials, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	switch cmd {
	case "list":
		users, err := store.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USERNAME\tNAME\tROLE")
		for _, u := range users {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Username, u.DisplayName, u.Role)
		}
		return tw.Flush()
	case "add":
		if username == "" || password == "" {
			return errors.New("-username and -password are required")
		}
		if err := store.Create(ctx, username, password, name, role); err != nil {
			return err
		}
		color.Green("created %s (%s)", username, role)
	case "remove":
		if username == "" {
			return errors.New("-username is required")
		}
		if err := store.Delete(ctx, username); err != nil {
			return err
		}
		color.Green("removed %s", username)
	case "verify":
		id, err := store.Verify(ctx, username, password)
		if err != nil {
			return err
		}
		color.Green("ok: %s (%s, %s)", id.Username, id.DisplayName, id.Role)
	}
	return nil
}
