package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	RootLoggerName    = "integrations"
	RefreshLoggerName = "integrations.refresh"
)

// WorkerLoggers bundles the loggers a refresh worker needs: one for the
// integration side (job handler, scheduler) and the equivalent go-job
// bridges for the queue worker.
type WorkerLoggers struct {
	Provider    glog.LoggerProvider
	Logger      glog.Logger
	JobProvider job.LoggerProvider
	JobLogger   job.Logger
}

// ResolveWorkerLoggers resolves a named logger with precedence
// provider > logger > nop and bridges the result into go-job.
// A blank name resolves the refresh logger.
func ResolveWorkerLoggers(name string, provider glog.LoggerProvider, logger glog.Logger) WorkerLoggers {
	name = strings.TrimSpace(name)
	if name == "" {
		name = RefreshLoggerName
	}
	resolvedProvider, resolvedLogger := glog.Resolve(name, provider, logger)
	out := WorkerLoggers{
		Provider: resolvedProvider,
		Logger:   resolvedLogger,
	}
	if resolvedProvider != nil {
		out.JobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	if resolvedLogger != nil {
		out.JobLogger = job.GoLogger(resolvedLogger)
	}
	return out
}

// Named returns the child logger for name from the bundle's provider.
func (l WorkerLoggers) Named(name string) glog.Logger {
	if l.Provider == nil {
		return glog.Ensure(l.Logger)
	}
	return glog.Ensure(l.Provider.GetLogger(name))
}
