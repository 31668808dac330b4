package models

import "github.com/google/uuid"

// Connection is a directed, optionally conditioned edge between two
// components in the declared device topology.
type Connection struct {
	ConnectionID   uuid.UUID
	SourceID       ComponentID
	TargetID       ComponentID
	ConnectionType string
	Enabled        bool
	// Condition, if non-empty, is a "side.Property OP literal" expression
	// (see topology.EvaluateCondition) gating whether this connection is
	// currently traversable.
	Condition string
	Metadata  map[string]string
}

// TopologyStoreID is the reserved identifier under which the topology
// service persists its connection list (§6: "a reserved all-zeros-with-
// trailing-one id").
var TopologyStoreID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
