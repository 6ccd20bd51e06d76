package cli

import "github.com/runnerr0/visitortrack/internal/storage"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand runs the raw-socket counter server.
type ServeCommand struct {
	Host     string `long:"host" description:"Override listen host"`
	Port     int    `long:"port" description:"Override listen port"`
	TLS      bool   `long:"tls" description:"Wrap the listener in TLS using the configured key pair"`
	LogLevel string `long:"log-level" description:"Override log level: debug | info | warn | error"`

	globals *GlobalFlags
	version string
}

// CountCommand prints counts straight from the store.
type CountCommand struct {
	URL string `long:"url" description:"Only show this page URL"`

	globals *GlobalFlags
	store   storage.CounterStore // injectable for testing; nil means open configured store
}

// VisitCommand records one visit through a running server.
type VisitCommand struct {
	Server string `long:"server" description:"Base URL of the running server" default:"http://localhost:8000"`
	URL    string `long:"url" description:"Page URL to record (required)"`

	globals *GlobalFlags
}

// StatsCommand reads counts through a running server.
type StatsCommand struct {
	Server string `long:"server" description:"Base URL of the running server" default:"http://localhost:8000"`
	URL    string `long:"url" description:"Only show this page URL"`

	globals *GlobalFlags
}
