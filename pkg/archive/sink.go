// Package archive persists completed negotiations for later inspection.
// Archiving is best effort: the engine fires snapshots asynchronously and a
// sink failure never fails a negotiation.
package archive

import (
	"context"
	"time"

	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/models"
)

// Snapshot is the archived view of one negotiation, taken at completion.
type Snapshot struct {
	NegotiationID       string               `json:"negotiation_id"`
	ParentNegotiationID string               `json:"parent_negotiation_id,omitempty"`
	State               string               `json:"state"`
	UserID              string               `json:"user_id"`
	Scope               string               `json:"scope"`
	DemandRaw           string               `json:"demand_raw"`
	DemandFormulated    string               `json:"demand_formulated"`
	PlanOutput          string               `json:"plan_output"`
	CoordinatorRounds   int                  `json:"coordinator_rounds"`
	Participants        []models.Participant `json:"participants"`
	Trace               []models.TraceEntry  `json:"trace"`
	Events              []events.Event       `json:"events"`
	Metadata            map[string]any       `json:"metadata"`
	CreatedAt           time.Time            `json:"created_at"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty"`
}

// Sink stores snapshots. Implementations must tolerate duplicate saves for
// the same negotiation id.
type Sink interface {
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}
