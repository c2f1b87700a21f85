package logger

import "testing"

type recordingBackend struct {
	fatals int
}

func (r *recordingBackend) Debug(message string, keyvals ...any) {}
func (r *recordingBackend) Info(message string, keyvals ...any)  {}
func (r *recordingBackend) Warn(message string, keyvals ...any)  {}
func (r *recordingBackend) Error(message string, keyvals ...any) {}
func (r *recordingBackend) Fatal(message string, keyvals ...any) { r.fatals++ }

func TestFatalExitsWithoutBackend(t *testing.T) {
	oldSingleton, oldExit := singleton, exit
	defer func() { singleton, exit = oldSingleton, oldExit }()

	singleton = nil
	code := -1
	exit = func(c int) { code = c }

	Fatal("missing required configuration", "key", "DATABASE_URL")

	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestFatalDispatchesToBackend(t *testing.T) {
	oldSingleton, oldExit := singleton, exit
	defer func() { singleton, exit = oldSingleton, oldExit }()

	exited := false
	exit = func(int) { exited = true }

	backend := &recordingBackend{}
	Init(backend)
	Fatal("boom")

	if backend.fatals != 1 {
		t.Errorf("backend fatals = %d, want 1", backend.fatals)
	}
	if exited {
		t.Error("Fatal exited directly instead of deferring to the backend")
	}
}
