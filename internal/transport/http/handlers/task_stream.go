package handlers

import (
	"encoding/json"
	"sync"

	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/gofiber/contrib/websocket"
)

// TaskStream pushes task-list snapshots to every connected browser. Slow
// clients only ever get the newest snapshot.
type TaskStream struct {
	snapshot func() []domain.TaskView
	logger   *logger.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

var _ ports.TaskNotifier = (*TaskStream)(nil)

func NewTaskStream(snapshot func() []domain.TaskView, logger *logger.Logger) *TaskStream {
	return &TaskStream{
		snapshot: snapshot,
		logger:   logger,
		clients:  make(map[*websocket.Conn]chan []byte),
	}
}

type taskMessage struct {
	Type  string            `json:"type"`
	Tasks []domain.TaskView `json:"tasks"`
}

func encodeTasks(tasks []domain.TaskView) ([]byte, error) {
	if tasks == nil {
		tasks = []domain.TaskView{}
	}
	return json.Marshal(taskMessage{Type: "tasks", Tasks: tasks})
}

func (s *TaskStream) TasksChanged(tasks []domain.TaskView) {
	msg, err := encodeTasks(tasks)
	if err != nil {
		s.logger.Errorw("task_stream_encode_failed", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		offer(ch, msg)
	}
}

// offer replaces a pending message instead of blocking.
func offer(ch chan []byte, msg []byte) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

func (s *TaskStream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *TaskStream) Handle(c *websocket.Conn) {
	ch := make(chan []byte, 1)
	if msg, err := encodeTasks(s.snapshot()); err == nil {
		ch <- msg
	}
	s.mu.Lock()
	s.clients[c] = ch
	s.mu.Unlock()
	s.logger.Infow("task_stream_connected", "remote", c.RemoteAddr().String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.clients, c)
	close(ch)
	s.mu.Unlock()
	<-done
	s.logger.Infow("task_stream_disconnected", "remote", c.RemoteAddr().String())
}
