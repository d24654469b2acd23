package core

import (
	"fmt"
	"sync"

	"pushengine/internal/types"
)

// mockLogger captures log lines for assertions.
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *mockLogger) Info(msg string, args ...any)  { l.add(&l.infos, msg, args) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.add(&l.warns, msg, args) }
func (l *mockLogger) Error(msg string, args ...any) { l.add(&l.errors, msg, args) }
func (l *mockLogger) With(...any) types.Logger      { return l }

func (l *mockLogger) add(dst *[]string, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*dst = append(*dst, fmt.Sprint(append([]any{msg}, args...)...))
}
