package services

import (
	"sync"
	"time"

	"github.com/apphub/backend/internal/infrastructure/logger"
)

// Process exit codes understood by the supervise command.
const (
	ExitCodeStop    = 0
	ExitCodeRestart = 11
)

const (
	ActionExit    = "exit"
	ActionRestart = "restart"
)

// SystemService stops or restarts the process after a short delay so the
// HTTP response still reaches the browser.
type SystemService struct {
	exit   func(code int)
	delay  time.Duration
	logger *logger.Logger

	once sync.Once
}

func NewSystemService(exit func(code int), delay time.Duration, logger *logger.Logger) *SystemService {
	return &SystemService{exit: exit, delay: delay, logger: logger}
}

// Control schedules the action and returns the message shown to the user.
// Only the first accepted action takes effect.
func (s *SystemService) Control(action string) (string, error) {
	var code int
	var msg string
	switch action {
	case ActionRestart:
		code, msg = ExitCodeRestart, "System is restarting..."
	case ActionExit:
		code, msg = ExitCodeStop, "System is exiting..."
	default:
		return "", ErrUnknownAction
	}

	s.once.Do(func() {
		s.logger.Infow("system_control", "action", action, "exit_code", code, "delay", s.delay)
		time.AfterFunc(s.delay, func() { s.exit(code) })
	})
	return msg, nil
}
