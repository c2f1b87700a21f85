package console

import (
	"testing"

	"github.com/caselight/backend/pkg/logger"
)

func TestNewProvidesBackend(t *testing.T) {
	var backend logger.Instance = New(Params{Debug: true})

	// Logging must not panic on an unbalanced keyval list.
	backend.Debug("debug enabled")
	backend.Info("message", "key", "value")
	backend.Warn("message", "dangling")
}
