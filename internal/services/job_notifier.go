package services

import (
	"context"

	types "github.com/reelforge/reelforge-backend/internal/domain"
	"github.com/reelforge/reelforge-backend/internal/platform/logger"
	"github.com/reelforge/reelforge-backend/internal/realtime"
	"github.com/reelforge/reelforge-backend/internal/realtime/bus"
)

// JobNotifier publishes job lifecycle events to the owner's channel. It also
// satisfies the orchestrator's Notifier so transitions flow out as they land.
type JobNotifier interface {
	JobCreated(job *types.Job)
	JobTransition(job *types.Job, from, to, cause string)
}

type jobNotifier struct {
	hub *realtime.Hub
	bus bus.Bus
	log *logger.Logger
}

// NewJobNotifier routes through the bus when one is configured (multi
// instance deployments) and straight to the local hub otherwise.
func NewJobNotifier(hub *realtime.Hub, b bus.Bus, baseLog *logger.Logger) JobNotifier {
	return &jobNotifier{
		hub: hub,
		bus: b,
		log: baseLog.With("service", "JobNotifier"),
	}
}

func (n *jobNotifier) JobCreated(job *types.Job) {
	n.publish(realtime.SSEMessage{
		Channel: job.OwnerID.String(),
		Event:   realtime.EventJobCreated,
		Data:    map[string]any{"job": job},
	})
}

func (n *jobNotifier) JobTransition(job *types.Job, from, to, cause string) {
	event := realtime.EventJobTransition
	switch to {
	case types.JobCompleted:
		event = realtime.EventJobCompleted
	case types.JobFailed:
		event = realtime.EventJobFailed
	case types.JobCancelled:
		event = realtime.EventJobCancelled
	}
	n.publish(realtime.SSEMessage{
		Channel: job.OwnerID.String(),
		Event:   event,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"from":     from,
			"to":       to,
			"cause":    cause,
		},
	})
}

func (n *jobNotifier) publish(msg realtime.SSEMessage) {
	if n.bus != nil {
		if err := n.bus.Publish(context.Background(), msg); err != nil {
			n.log.Warn("bus publish failed, falling back to local hub", "error", err)
			n.hub.Broadcast(msg)
		}
		return
	}
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
}
