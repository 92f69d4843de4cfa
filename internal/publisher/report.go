package publisher

import (
	"context"
	"time"

	"github.com/nerrad567/simplepub/internal/infrastructure/mqtt"
)

// Report describes one finished run.
type Report struct {
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	Broker         string
	ClientID       string
	Topic          string
	QoS            byte
	Retain         bool
	PayloadSize    int
	Status         Status
	Err            error
	ErrorKind      mqtt.ErrorKind
	Connected      bool
	SessionPresent bool
	Pending        int
	Iterations     uint64
	Stats          mqtt.Stats
}

// ErrorString returns the error text, or "" for a clean run.
func (r Report) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Recorder stores or exports finished run reports.
type Recorder interface {
	Record(ctx context.Context, report Report) error
}
