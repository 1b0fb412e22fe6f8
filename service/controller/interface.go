// Package controller handles the HTTP API of the trigger service.
package controller

import (
	"mediabot/coordinator"
	"mediabot/database"
)

// Coordinator runs join jobs.
//
//go:generate mockgen -destination=mock_controller.go -package=controller . Coordinator
type Coordinator interface {
	Submit(req coordinator.JoinRequest) (*database.JobInfo, error)
	Job(id string) (*database.JobInfo, error)
}
