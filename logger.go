package microapp

import "github.com/GoCodeAlone/microapp/internal/logging"

// Logger defines the interface for structured logging used by applications,
// containers and the router. Arguments are key-value pairs:
//
//	logger.Info("Application mounted", "app", "foo", "state", "MOUNTED")
//
// *slog.Logger satisfies it directly; adapters for logrus, zap and others
// are a few lines each.
type Logger = logging.Logger
