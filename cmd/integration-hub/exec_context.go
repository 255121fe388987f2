package main

import (
	"os"
	"sync"

	"github.com/open-sspm/integration-hub/internal/logging"
	"github.com/spf13/cobra"
)

// annotationPlainOutput marks commands that write for humans on stdout
// instead of emitting structured logs.
const annotationPlainOutput = "integration-hub/plain-output"

type commandExecutionContext struct {
	CommandPath       string
	UsesStructuredLog bool
}

var (
	execCtxMu sync.RWMutex
	execCtx   commandExecutionContext
)

func setCommandExecutionContext(ctx commandExecutionContext) {
	execCtxMu.Lock()
	defer execCtxMu.Unlock()
	execCtx = ctx
}

func resetCommandExecutionContext() {
	setCommandExecutionContext(commandExecutionContext{})
}

func currentCommandExecutionContext() commandExecutionContext {
	execCtxMu.RLock()
	defer execCtxMu.RUnlock()
	return execCtx
}

func commandUsesStructuredLogging(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[annotationPlainOutput]; ok {
			return false
		}
	}
	return true
}

// bootstrapCommand records the running command and installs the default
// structured logger for it.
func bootstrapCommand(cmd *cobra.Command, _ []string) error {
	ctx := commandExecutionContext{
		CommandPath:       cmd.CommandPath(),
		UsesStructuredLog: commandUsesStructuredLogging(cmd),
	}
	setCommandExecutionContext(ctx)
	if !ctx.UsesStructuredLog {
		return nil
	}
	_, err := logging.BootstrapFromEnv(logging.BootstrapOptions{
		Writer:  os.Stderr,
		Command: ctx.CommandPath,
	})
	return err
}
