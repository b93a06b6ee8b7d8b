package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// StartRequest describes a new dialogue instance.
type StartRequest struct {
	GraphID      string
	Participants []domain.Participant

	// EntryNodeID overrides the graph's start node, typically with a node
	// saved by a previous session.
	EntryNodeID string

	// Vars seeds the instance variable scope.
	Vars map[string]any
}

// DialogueEngine is the operation set driven by transports.
// Every call returns the instance state after the operation committed.
type DialogueEngine interface {
	StartInstance(ctx context.Context, req StartRequest) (*domain.Snapshot, error)
	AdvanceInstance(ctx context.Context, instanceID, choice string) (*domain.Snapshot, error)
	ResumeInstance(ctx context.Context, instanceID string) (*domain.Snapshot, error)
	PauseInstance(ctx context.Context, instanceID string) (*domain.Snapshot, error)
	AbortInstance(ctx context.Context, instanceID, reason string) (*domain.Snapshot, error)
	Snapshot(ctx context.Context, instanceID string) (*domain.Snapshot, error)
}
