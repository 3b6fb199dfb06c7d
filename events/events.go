// Package events carries leave-request change notifications from the
// request owner to the balance engine over Kafka.
package events

import (
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

const RequestChangedTopic = "leave.request.changed"

type RequestRefPayload struct {
	LeaveTypeID string            `json:"leave_type_id"`
	StartDate   generic.TimePoint `json:"start_date"`
}

// RequestChangedEvent is the JSON message published on RequestChangedTopic.
type RequestChangedEvent struct {
	EventID   string             `json:"event_id,omitempty"`
	Op        string             `json:"op"`
	WorkerID  string             `json:"worker_id"`
	RequestID string             `json:"request_id,omitempty"`
	Previous  *RequestRefPayload `json:"previous,omitempty"`
	Current   *RequestRefPayload `json:"current,omitempty"`
}

// Change converts the event for Engine.RequestChanged.
func (e RequestChangedEvent) Change() timeoff.RequestChange {
	return timeoff.RequestChange{
		Op:       timeoff.ChangeOp(e.Op),
		WorkerID: timeoff.WorkerID(e.WorkerID),
		Previous: e.Previous.ref(),
		Current:  e.Current.ref(),
	}
}

func (p *RequestRefPayload) ref() *timeoff.RequestRef {
	if p == nil {
		return nil
	}
	return &timeoff.RequestRef{
		LeaveTypeID: timeoff.LeaveTypeID(p.LeaveTypeID),
		StartDate:   p.StartDate,
	}
}
