package cluster

import (
	"time"

	"github.com/syncline/syncline/id"
)

// WorkerState represents the lifecycle state of a process instance.
type WorkerState string

const (
	// WorkerActive means the instance is healthy and running sync jobs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the instance is finishing in-flight runs but
	// not acquiring new leases (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the instance stopped heartbeating; its leases
	// will expire on their own.
	WorkerDead WorkerState = "dead"
)

// Worker represents one Syncline process instance sharing the store.
type Worker struct {
	ID                   id.WorkerID       `json:"id"`
	Hostname             string            `json:"hostname"`
	TransformConcurrency int               `json:"transform_concurrency"`
	State                WorkerState       `json:"state"`
	LastSeen             time.Time         `json:"last_seen"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}
