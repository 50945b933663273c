package services

import (
	"errors"
	"testing"
	"time"

	"github.com/apphub/backend/internal/infrastructure/logger"
)

func TestSystemService_Control(t *testing.T) {
	cases := []struct {
		action string
		code   int
	}{
		{ActionExit, ExitCodeStop},
		{ActionRestart, ExitCodeRestart},
	}
	for _, c := range cases {
		codes := make(chan int, 2)
		s := NewSystemService(func(code int) { codes <- code }, 10*time.Millisecond, logger.NewNop())

		start := time.Now()
		msg, err := s.Control(c.action)
		if err != nil || msg == "" {
			t.Fatalf("%s: msg=%q err=%v", c.action, msg, err)
		}
		// a second request while the first is pending is ignored
		s.Control(ActionExit)

		select {
		case code := <-codes:
			if code != c.code {
				t.Errorf("%s: exit code = %d, want %d", c.action, code, c.code)
			}
			if time.Since(start) < 10*time.Millisecond {
				t.Errorf("%s: exited before the delay", c.action)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: exit never called", c.action)
		}
		select {
		case code := <-codes:
			t.Errorf("%s: exit called twice (second code %d)", c.action, code)
		case <-time.After(30 * time.Millisecond):
		}
	}
}

func TestSystemService_UnknownAction(t *testing.T) {
	called := false
	s := NewSystemService(func(int) { called = true }, 0, logger.NewNop())
	if _, err := s.Control("reboot"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Error("unknown action must not exit")
	}
}
