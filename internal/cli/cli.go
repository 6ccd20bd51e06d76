package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve *ServeCommand
	Count *CountCommand
	Visit *VisitCommand
	Stats *StatsCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "visitortrack"
	parser.LongDescription = "Per-URL visit counter served over a minimal HTTP/1.1 socket listener."

	cmds := &commands{
		Serve: &ServeCommand{globals: &globals, version: version},
		Count: &CountCommand{globals: &globals},
		Visit: &VisitCommand{globals: &globals},
		Stats: &StatsCommand{globals: &globals},
	}

	parser.AddCommand("serve", "Run the visitor counter server", "Ensure the schema, bind the configured address and serve /update and /count.", cmds.Serve)
	parser.AddCommand("count", "Print stored visit counts", "Read visit counts directly from the configured store.", cmds.Count)
	parser.AddCommand("visit", "Record a visit through a running server", "Send GET /update for a page URL to a running server.", cmds.Visit)
	parser.AddCommand("stats", "Read visit counts from a running server", "Send GET /count to a running server, optionally for one page URL.", cmds.Stats)

	return parser, &globals, cmds
}

// Run is the main entry point for the visitortrack CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("visitortrack %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
