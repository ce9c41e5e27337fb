package main

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"connmonitor/clients"
	"connmonitor/core/log"
	"connmonitor/models"
	"connmonitor/services/alerts"
)

// alertNotifier hands alerts to the local sink off the caller's goroutine.
// Throttled alerts are dropped while a previous one of the same type is
// younger than the window.
type alertNotifier struct {
	sink    clients.NotificationSink
	pool    *workerpool.WorkerPool
	timeout time.Duration
	window  time.Duration
	now     func() time.Time

	mu       sync.Mutex
	lastSent map[models.AlertType]time.Time
}

func newAlertNotifier(sink clients.NotificationSink, window time.Duration) *alertNotifier {
	return &alertNotifier{
		sink:     sink,
		pool:     workerpool.New(1),
		timeout:  10 * time.Second,
		window:   window,
		now:      time.Now,
		lastSent: make(map[models.AlertType]time.Time),
	}
}

func (n *alertNotifier) Notify(alert models.Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = n.now().UTC()
	}
	message := alerts.FormatMessage(alert)
	severity := alert.Severity

	n.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.sink.SendAlert(ctx, message, severity); err != nil {
			log.Error("❌ Failed to send local %s alert: %v", alert.Type, err)
		}
	})
}

// NotifyThrottled reports whether the alert was sent.
func (n *alertNotifier) NotifyThrottled(alert models.Alert) bool {
	n.mu.Lock()
	now := n.now()
	if last, ok := n.lastSent[alert.Type]; ok && now.Sub(last) < n.window {
		n.mu.Unlock()
		return false
	}
	n.lastSent[alert.Type] = now
	n.mu.Unlock()

	n.Notify(alert)
	return true
}

// Close waits for queued sends.
func (n *alertNotifier) Close() {
	n.pool.StopWait()
}
