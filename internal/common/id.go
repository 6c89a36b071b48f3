package common

import (
	"github.com/google/uuid"
)

// NewWorkerID generates a unique worker ID with the "worker_" prefix
// Format: worker_<uuid>
func NewWorkerID() string {
	return "worker_" + uuid.New().String()
}

// NewServerInstanceID generates a unique server instance ID. A fresh id per
// process lets stream consumers detect server restarts.
func NewServerInstanceID() string {
	return "server_" + uuid.New().String()
}
