// Package adapters provides default implementations of the core's consumed
// ports (generator, notifier, platform app) for standalone operation. The
// real generator, platform metadata client, and notification fan-out are
// external collaborators the core only talks to through internal/ports;
// these adapters exist so the core is runnable without them wired in.
package adapters

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/ports"
)

// LoggingGenerator is a ports.Generator that only logs what it was asked to
// do. It stands in for the LLM-driven wiki generator, which is out of scope
// for the core (§1).
type LoggingGenerator struct{}

func (LoggingGenerator) GenerateCatalog(_ context.Context, ws domain.Workspace, language string) error {
	log.Info("generate catalog (stub)", "path", ws.Path, "language", language)
	return nil
}

func (LoggingGenerator) GenerateDocuments(_ context.Context, ws domain.Workspace, language string) error {
	log.Info("generate documents (stub)", "path", ws.Path, "language", language)
	return nil
}

func (LoggingGenerator) IncrementalUpdate(_ context.Context, ws domain.Workspace, language string, changedFiles []string) error {
	log.Info("incremental update (stub)", "path", ws.Path, "language", language, "changed_files", len(changedFiles))
	return nil
}

// NoopNotifier drops every notification. Subscriber fan-out lives outside
// the core (§1).
type NoopNotifier struct{}

func (NoopNotifier) NotifySubscribers(context.Context, ports.Notification) error { return nil }

// NoopPlatformApp never has an installation record, forcing credential
// synthesis down to the global token (§4.1).
type NoopPlatformApp struct{}

func (NoopPlatformApp) InstallationToken(context.Context, string) (string, bool) { return "", false }
