package domain

import "time"

// EventKind distinguishes progress events from terminal notifications.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventRetrying  EventKind = "retrying"
	EventComplete  EventKind = "complete"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is a progress notification for one job.
type Event struct {
	Kind      EventKind  `json:"kind"`
	JobID     string     `json:"jobID"`
	Type      TaskType   `json:"type"`
	EntityID  string     `json:"entityID,omitempty"`
	Status    JobStatus  `json:"status"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorCode string     `json:"errorCode,omitempty"`
	Retryable *bool      `json:"retryable,omitempty"`
	// Room and Seq are stamped by the hub on delivery.
	Room string    `json:"room,omitempty"`
	Seq  uint64    `json:"seq,omitempty"`
	At   time.Time `json:"at"`
}

// Terminal reports whether the event closes the job's stream.
func (e Event) Terminal() bool {
	return e.Status.Terminal()
}

// Rooms returns the broadcast rooms the event belongs to.
func (e Event) Rooms() []string {
	rooms := []string{JobRoom(e.JobID)}
	if e.EntityID != "" {
		rooms = append(rooms, EntityRoom(e.EntityID))
	}
	return rooms
}

func JobRoom(jobID string) string       { return "job:" + jobID }
func EntityRoom(entityID string) string { return "entity:" + entityID }

// EventFromJob renders the current stored state of a job as an event.
func EventFromJob(j *Job) Event {
	ev := Event{
		Kind:     EventProgress,
		JobID:    j.ID,
		Type:     j.Type,
		Status:   j.Status,
		Progress: j.Progress,
		At:       j.UpdatedAt,
	}
	if j.EntityID != nil {
		ev.EntityID = *j.EntityID
	}
	switch j.Status {
	case JobStatusComplete:
		ev.Kind = EventComplete
		ev.Result = j.Result
	case JobStatusFailed:
		ev.Kind = EventFailed
		ev.Error = j.Error
		ev.ErrorCode = j.ErrorCode
		no := false
		ev.Retryable = &no
	case JobStatusCancelled:
		ev.Kind = EventCancelled
	}
	return ev
}
