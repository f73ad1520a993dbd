package shadowcascade

import (
	"errors"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
)

const testBase = DefaultImageBase

func testError(t *testing.T, expected, actual error) {
	t.Helper()
	if expected == nil && actual != nil {
		t.Errorf("got [%v] error when no error expected", actual)
		return
	}
	if expected != nil && actual == nil {
		t.Errorf("no error reported when [%v] error expected", expected)
		return
	}
	if !errors.Is(actual, expected) {
		t.Errorf("got [%v] error when [%v] error expected", actual, expected)
	}
}

func testLogger() (*log.Logger, *memory.Handler) {
	h := memory.New()
	return &log.Logger{Handler: h, Level: log.DebugLevel}, h
}

func countEntries(h *memory.Handler, level log.Level, msg string) int {
	n := 0
	for _, e := range h.Entries {
		if e.Level == level && e.Message == msg {
			n++
		}
	}
	return n
}
