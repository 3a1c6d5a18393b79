// Command lightify sends one action to a light or group on an Osram Lightify
// gateway.
//
// Usage:
//
//	lightify [-timeout d] [-group] [-v] <gateway> <name> <action> [args...]
//
// Actions:
//
//	on
//	off
//	lum  <level 0-255> <time>
//	temp <kelvin> <time>
//	col  <r> <g> <b> <time>
//
// Transition times are in tenths of a second. The gateway's light and group
// lists are read before the name is resolved.
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
	"time"

	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/logging"
)

// version is set at build time via ldflags.
var version = "dev"

const defaultTimeout = 10 * time.Second

// errUsage marks command-line mistakes.
var errUsage = errors.New("usage")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds parsed command-line arguments.
type options struct {
	timeout time.Duration
	group   bool
	verbose bool
	gateway string
	name    string
	action  lightify.Action
}

// parseArgs parses flags and positional arguments. The action is validated
// here so a bad command never opens a connection.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("lightify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall deadline for the exchange")
	fs.BoolVar(&opts.group, "group", false, "resolve <name> among groups instead of lights")
	fs.BoolVar(&opts.verbose, "v", false, "log frames to stderr")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: lightify [-timeout d] [-group] [-v] <gateway> <name> <on|off|lum l t|temp k t|col r g b t>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() < 3 {
		fs.Usage()
		return opts, fmt.Errorf("%w: need <gateway> <name> <action>", errUsage)
	}
	if opts.timeout <= 0 {
		return opts, fmt.Errorf("%w: -timeout must be positive", errUsage)
	}

	rest := fs.Args()
	action, err := lightify.ParseAction(rest[2], rest[3:])
	if err != nil {
		return opts, err
	}

	opts.gateway = rest[0]
	opts.name = rest[1]
	opts.action = action
	return opts, nil
}

// run executes one command-line invocation.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	var connOpts []lightify.Option
	if opts.verbose {
		log := logging.New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, version)
		connOpts = append(connOpts, lightify.WithLogger(log.With("component", "lightify")))
	}

	conn, err := lightify.Connect(ctx, opts.gateway, lightify.TransportConfig{
		ConnectTimeout: opts.timeout,
		ReadTimeout:    opts.timeout,
		WriteTimeout:   opts.timeout,
	}, connOpts...)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.UpdateAllLightStatus(ctx); err != nil {
		return fmt.Errorf("reading lights: %w", err)
	}
	if err := conn.UpdateGroupList(ctx); err != nil {
		return fmt.Errorf("reading groups: %w", err)
	}

	lum, err := resolve(conn, opts.name, opts.group)
	if err != nil {
		return err
	}

	if err := opts.action.Apply(ctx, lum); err != nil {
		return fmt.Errorf("%s %s: %w", opts.name, opts.action, err)
	}
	fmt.Fprintf(stdout, "%s: %s\n", opts.name, opts.action)
	return nil
}

// resolve finds the named light, or the named group when group is set.
func resolve(conn *lightify.Connection, name string, group bool) (lightify.Luminary, error) {
	if group {
		g, err := conn.GroupByName(name)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	l, err := conn.LightByName(name)
	if err != nil {
		return nil, err
	}
	return l, nil
}
