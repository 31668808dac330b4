// Package topology implements §4.F: the directed, conditioned connection
// graph with source/target multi-indexes, persisted under the reserved
// well-known store id, and the minimal condition-expression language gating
// whether a connection currently applies. The in-memory index and its
// guarding mutex mirror the subscriber-map pattern in the teacher's
// telemetry/events package.
package topology

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/seangreaves-90/hydrogarden/models"
	"github.com/seangreaves-90/hydrogarden/store"
	"github.com/seangreaves-90/hydrogarden/telemetry/logging"

	"github.com/google/uuid"
)

// PropertyReader resolves a live property value for condition evaluation;
// the persistence service satisfies this contract.
type PropertyReader interface {
	GetProperty(ctx context.Context, deviceID models.ComponentID, name string) (any, bool, error)
}

// Service is the topology collaborator: initialize/create/update/delete plus
// source/target lookups gated by condition evaluation.
type Service struct {
	st  *store.Store
	log logging.Logger

	mu          sync.RWMutex
	connections map[uuid.UUID]models.Connection
	bySource    map[models.ComponentID][]uuid.UUID
	byTarget    map[models.ComponentID][]uuid.UUID

	reader PropertyReader
}

// New constructs a Service backed by st. SetPropertyReader must be called
// before GetForSource/GetForTarget can evaluate conditions.
func New(st *store.Store, log logging.Logger) *Service {
	return &Service{
		st:          st,
		log:         log,
		connections: make(map[uuid.UUID]models.Connection),
		bySource:    make(map[models.ComponentID][]uuid.UUID),
		byTarget:    make(map[models.ComponentID][]uuid.UUID),
	}
}

// SetPropertyReader installs the collaborator used to resolve property
// values named in connection conditions.
func (s *Service) SetPropertyReader(r PropertyReader) {
	s.mu.Lock()
	s.reader = r
	s.mu.Unlock()
}

type storedTopology struct {
	Connections []models.Connection `json:"connections"`
}

// Initialize loads every connection from the store and rebuilds both
// indexes.
func (s *Service) Initialize(ctx context.Context) error {
	props, ok, err := s.st.Load(ctx, models.TopologyStoreID.String())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = make(map[uuid.UUID]models.Connection)
	s.bySource = make(map[models.ComponentID][]uuid.UUID)
	s.byTarget = make(map[models.ComponentID][]uuid.UUID)
	if !ok {
		return nil
	}
	raw, ok := props["connections"]
	if !ok {
		return nil
	}
	conns, err := decodeConnections(raw)
	if err != nil {
		return err
	}
	for _, c := range conns {
		s.connections[c.ConnectionID] = c
		s.indexLocked(c)
	}
	return nil
}

func (s *Service) indexLocked(c models.Connection) {
	s.bySource[c.SourceID] = append(s.bySource[c.SourceID], c.ConnectionID)
	s.byTarget[c.TargetID] = append(s.byTarget[c.TargetID], c.ConnectionID)
}

func (s *Service) deindexLocked(c models.Connection) {
	s.bySource[c.SourceID] = removeID(s.bySource[c.SourceID], c.ConnectionID)
	s.byTarget[c.TargetID] = removeID(s.byTarget[c.TargetID], c.ConnectionID)
}

func removeID(ids []uuid.UUID, target uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Create registers a new connection, assigning a fresh id when c.ConnectionID
// is the zero value, and rejects callers who supply an id already present.
func (s *Service) Create(ctx context.Context, c models.Connection) (models.Connection, error) {
	s.mu.Lock()
	if c.ConnectionID == uuid.Nil {
		c.ConnectionID = uuid.New()
	} else if _, exists := s.connections[c.ConnectionID]; exists {
		s.mu.Unlock()
		return models.Connection{}, fmt.Errorf("topology: connection %s already exists", c.ConnectionID)
	}
	s.connections[c.ConnectionID] = c
	s.indexLocked(c)
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		return models.Connection{}, err
	}
	return c, nil
}

// Update replaces an existing connection, re-indexing if its endpoints
// changed, and rejects callers referencing an unknown id.
func (s *Service) Update(ctx context.Context, c models.Connection) error {
	s.mu.Lock()
	old, exists := s.connections[c.ConnectionID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("topology: connection %s not found", c.ConnectionID)
	}
	if old.SourceID != c.SourceID || old.TargetID != c.TargetID {
		s.deindexLocked(old)
		s.indexLocked(c)
	}
	s.connections[c.ConnectionID] = c
	s.mu.Unlock()

	return s.persist(ctx)
}

// Delete removes a connection by id.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	c, exists := s.connections[id]
	if !exists {
		s.mu.Unlock()
		return nil
	}
	delete(s.connections, id)
	s.deindexLocked(c)
	s.mu.Unlock()

	return s.persist(ctx)
}

// GetForSource returns every enabled connection from sourceID whose
// condition currently evaluates true.
func (s *Service) GetForSource(ctx context.Context, sourceID models.ComponentID) []models.Connection {
	return s.resolve(ctx, s.idsFor(s.bySource, sourceID))
}

// GetForTarget returns every enabled connection into targetID whose
// condition currently evaluates true.
func (s *Service) GetForTarget(ctx context.Context, targetID models.ComponentID) []models.Connection {
	return s.resolve(ctx, s.idsFor(s.byTarget, targetID))
}

func (s *Service) idsFor(idx map[models.ComponentID][]uuid.UUID, key models.ComponentID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := idx[key]
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out
}

func (s *Service) resolve(ctx context.Context, ids []uuid.UUID) []models.Connection {
	out := make([]models.Connection, 0, len(ids))
	for _, id := range ids {
		s.mu.RLock()
		c, ok := s.connections[id]
		s.mu.RUnlock()
		if !ok || !c.Enabled {
			continue
		}
		if s.EvaluateCondition(ctx, c) {
			out = append(out, c)
		}
	}
	return out
}

// EvaluateCondition evaluates c.Condition, returning true for an empty or
// absent condition, and false (with a logged failure) on any parse error or
// failed property fetch.
func (s *Service) EvaluateCondition(ctx context.Context, c models.Connection) bool {
	if strings.TrimSpace(c.Condition) == "" {
		return true
	}
	expr, err := parseCondition(c.Condition)
	if err != nil {
		if s.log != nil {
			s.log.WarnCtx(ctx, "topology condition parse error", "connection", c.ConnectionID, "error", err)
		}
		return false
	}
	s.mu.RLock()
	reader := s.reader
	s.mu.RUnlock()
	if reader == nil {
		if s.log != nil {
			s.log.WarnCtx(ctx, "topology condition has no property reader installed", "connection", c.ConnectionID)
		}
		return false
	}
	var deviceID models.ComponentID
	switch expr.side {
	case sideSource:
		deviceID = c.SourceID
	case sideTarget:
		deviceID = c.TargetID
	}
	value, ok, err := reader.GetProperty(ctx, deviceID, expr.property)
	if err != nil || !ok {
		if s.log != nil {
			s.log.WarnCtx(ctx, "topology condition property fetch failed", "connection", c.ConnectionID, "property", expr.property)
		}
		return false
	}
	result, err := expr.evaluate(value)
	if err != nil {
		if s.log != nil {
			s.log.WarnCtx(ctx, "topology condition evaluation error", "connection", c.ConnectionID, "error", err)
		}
		return false
	}
	return result
}

func (s *Service) persist(ctx context.Context) error {
	s.mu.RLock()
	conns := make([]models.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	return s.st.Save(ctx, models.TopologyStoreID.String(), map[string]any{"connections": conns})
}

func decodeConnections(raw any) ([]models.Connection, error) {
	switch v := raw.(type) {
	case []models.Connection:
		return v, nil
	case []any:
		out := make([]models.Connection, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("topology: unexpected connection encoding %T", item)
			}
			out = append(out, connectionFromMap(m))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("topology: unexpected connections encoding %T", raw)
	}
}

func connectionFromMap(m map[string]any) models.Connection {
	c := models.Connection{Metadata: map[string]string{}}
	if v, ok := m["ConnectionID"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			c.ConnectionID = id
		}
	}
	if v, ok := m["SourceID"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			c.SourceID = id
		}
	}
	if v, ok := m["TargetID"].(string); ok {
		if id, err := uuid.Parse(v); err == nil {
			c.TargetID = id
		}
	}
	if v, ok := m["ConnectionType"].(string); ok {
		c.ConnectionType = v
	}
	if v, ok := m["Enabled"].(bool); ok {
		c.Enabled = v
	}
	if v, ok := m["Condition"].(string); ok {
		c.Condition = v
	}
	if md, ok := m["Metadata"].(map[string]any); ok {
		for k, v := range md {
			if s, ok := v.(string); ok {
				c.Metadata[k] = s
			}
		}
	}
	return c
}

type side int

const (
	sideSource side = iota
	sideTarget
)

type operator string

const (
	opEq operator = "=="
	opNe operator = "!="
	opLt operator = "<"
	opLe operator = "<="
	opGt operator = ">"
	opGe operator = ">="
)

type condition struct {
	side     side
	property string
	op       operator
	literal  any
}

// parseCondition parses "side.PropertyName OP literal" where side is
// "source" or "target", OP is one of ==, !=, <, <=, >, >=, and literal is a
// bool, number, or double-quoted string.
func parseCondition(expr string) (condition, error) {
	expr = strings.TrimSpace(expr)
	var op operator
	var opIdx int
	for _, candidate := range []operator{opLe, opGe, opEq, opNe, opLt, opGt} {
		if idx := strings.Index(expr, string(candidate)); idx >= 0 {
			op = candidate
			opIdx = idx
			break
		}
	}
	if op == "" {
		return condition{}, fmt.Errorf("topology: no recognized operator in %q", expr)
	}
	left := strings.TrimSpace(expr[:opIdx])
	right := strings.TrimSpace(expr[opIdx+len(op):])

	dot := strings.IndexByte(left, '.')
	if dot < 0 {
		return condition{}, fmt.Errorf("topology: expected side.Property, got %q", left)
	}
	sidePart, prop := left[:dot], left[dot+1:]
	var sd side
	switch sidePart {
	case "source":
		sd = sideSource
	case "target":
		sd = sideTarget
	default:
		return condition{}, fmt.Errorf("topology: unknown side %q", sidePart)
	}
	if prop == "" {
		return condition{}, fmt.Errorf("topology: empty property name in %q", left)
	}

	literal, err := parseLiteral(right)
	if err != nil {
		return condition{}, err
	}
	return condition{side: sd, property: prop, op: op, literal: literal}, nil
}

func parseLiteral(raw string) (any, error) {
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1], nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("topology: cannot parse literal %q", raw)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (c condition) evaluate(value any) (bool, error) {
	switch lit := c.literal.(type) {
	case bool:
		actual, ok := value.(bool)
		if !ok {
			return false, fmt.Errorf("topology: expected bool property, got %T", value)
		}
		switch c.op {
		case opEq:
			return actual == lit, nil
		case opNe:
			return actual != lit, nil
		default:
			return false, fmt.Errorf("topology: operator %s not valid for bool", c.op)
		}
	case string:
		actual, ok := value.(string)
		if !ok {
			return false, fmt.Errorf("topology: expected string property, got %T", value)
		}
		switch c.op {
		case opEq:
			return actual == lit, nil
		case opNe:
			return actual != lit, nil
		default:
			return false, fmt.Errorf("topology: operator %s not valid for string", c.op)
		}
	case float64:
		actual, ok := toFloat(value)
		if !ok {
			return false, fmt.Errorf("topology: expected numeric property, got %T", value)
		}
		switch c.op {
		case opEq:
			return actual == lit, nil
		case opNe:
			return actual != lit, nil
		case opLt:
			return actual < lit, nil
		case opLe:
			return actual <= lit, nil
		case opGt:
			return actual > lit, nil
		case opGe:
			return actual >= lit, nil
		}
	}
	return false, fmt.Errorf("topology: unhandled literal type %T", c.literal)
}
