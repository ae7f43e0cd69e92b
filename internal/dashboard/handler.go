package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskflow/taskflow/internal/logging"
	tfsync "github.com/taskflow/taskflow/internal/sync"
	"github.com/taskflow/taskflow/internal/task"
)

// Handler turns sync engine events into dashboard messages.
type Handler struct {
	server *Server
	logger logrus.FieldLogger
	now    func() time.Time

	mu    sync.Mutex
	stats StatsData
}

// NewHandler sends events to server.
func NewHandler(server *Server, logger logrus.FieldLogger) *Handler {
	return &Handler{
		server: server,
		logger: logging.ForComponent(logger, "dashboard"),
		now:    time.Now,
	}
}

// OnStatus has the shape of a sync.StatusFunc.
func (h *Handler) OnStatus(isSyncing bool, message string) {
	h.send(MessageTypeStatus, StatusData{Syncing: isSyncing, Message: message})
}

// OnReport publishes the summary of one RunSync call.
func (h *Handler) OnReport(r tfsync.Report) {
	data := ReportData{
		AttemptID:  r.AttemptID,
		Outcome:    string(r.Outcome),
		Skip:       string(r.Skip),
		Published:  r.Published,
		Pulled:     r.Pulled,
		Failed:     r.Failed,
		DurationMS: r.Duration.Milliseconds(),
		Message:    r.Message(),
	}
	if r.Err != nil {
		data.Error = r.Err.Error()
	}
	h.send(MessageTypeReport, data)
}

// UpdateStats recomputes statistics from a full task list.
func (h *Handler) UpdateStats(tasks []*task.Task, pending int) {
	now := h.now()
	stats := StatsData{Total: len(tasks), Pending: pending}
	for _, t := range tasks {
		switch {
		case t.IsCompleted:
			stats.Completed++
		case t.IsOverdue(now):
			stats.Overdue++
		case t.IsDueSoon(now):
			stats.DueSoon++
		}
	}

	h.mu.Lock()
	h.stats = stats
	h.mu.Unlock()

	h.send(MessageTypeStats, stats)
}

// Stats returns the last computed statistics.
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.WithError(err).WithField("type", typ).Warn("failed to marshal message data")
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: h.now(), Data: data})
}
