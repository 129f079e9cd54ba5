// Package ordlog names this codebase's component sub-loggers in one
// place, so every package that logs asks for its logger the same way
// instead of repeating the component string at each construction site.
package ordlog

import "github.com/ordindexer/ordindexer/pkg/logging"

const (
	Fetcher   = "fetcher"
	Updater   = "updater"
	Store     = "store"
	RPCClient = "rpcclient"
	Mirror    = "mirror"
	CLI       = "ordindexer"
)

// For returns the named component logger off the process-wide default
// logger. Callers that need a differently-configured logger should use
// logging.New directly and call .Component(name) themselves.
func For(component string) *logging.Logger {
	return logging.GetDefault().Component(component)
}
