// Package graph defines the data model for the memory knowledge graph:
// typed, scored memory records, session records, and the relations that
// connect them.
//
// Records move through a lifecycle: created as working memory, decayed and
// reinforced over time, and eventually promoted to a durable memory type or
// forgotten. The types here carry only state; the lifecycle engines live in
// their own packages.
package graph

import "time"

// MemoryType classifies a memory record's lifecycle rules.
//
// Memory types:
//   - MemoryTypeWorking: short-lived, session-scoped, TTL-bound
//   - MemoryTypeEpisodic: tied to a specific session/event history
//   - MemoryTypeSemantic: durable, generalized knowledge
//   - MemoryTypeProcedural: learned procedures and skills
type MemoryType string

const (
	// MemoryTypeWorking is short-lived memory awaiting promotion or expiry.
	MemoryTypeWorking MemoryType = "working"

	// MemoryTypeEpisodic is memory tied to a specific session.
	MemoryTypeEpisodic MemoryType = "episodic"

	// MemoryTypeSemantic is durable, generalized knowledge.
	MemoryTypeSemantic MemoryType = "semantic"

	// MemoryTypeProcedural is memory of procedures and skills.
	MemoryTypeProcedural MemoryType = "procedural"
)

// Valid reports whether t is one of the defined memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeWorking, MemoryTypeEpisodic, MemoryTypeSemantic, MemoryTypeProcedural:
		return true
	}
	return false
}

// Durable reports whether t is a promotion target (anything but working).
func (t MemoryType) Durable() bool {
	return t.Valid() && t != MemoryTypeWorking
}

// Visibility defines which agents can see a memory record.
type Visibility string

const (
	// VisibilityPrivate makes the record visible only to the creating agent.
	VisibilityPrivate Visibility = "private"

	// VisibilityShared makes the record visible to collaborating agents.
	VisibilityShared Visibility = "shared"

	// VisibilityPublic makes the record visible to all agents.
	VisibilityPublic Visibility = "public"
)

// AccessPattern classifies how often a record is accessed.
type AccessPattern string

const (
	// AccessFrequent marks records accessed often enough to stay hot.
	AccessFrequent AccessPattern = "frequent"

	// AccessOccasional marks records accessed now and then.
	AccessOccasional AccessPattern = "occasional"

	// AccessRare marks records that are almost never accessed.
	AccessRare AccessPattern = "rare"
)

// SourceInfo records the provenance of a memory.
type SourceInfo struct {
	// Agent is the originating agent identifier.
	Agent string `json:"agent"`

	// Timestamp is when the memory was acquired.
	Timestamp time.Time `json:"timestamp"`

	// Method describes how the memory was acquired (e.g., "conversation",
	// "consolidation", "import").
	Method string `json:"method,omitempty"`

	// Reliability is the trust placed in the source (0.0-1.0).
	Reliability float64 `json:"reliability,omitempty"`
}

// SessionStatus is the lifecycle state of a session record.
//
// The state machine is: active -> completed or active -> abandoned.
// Both non-active states are terminal.
type SessionStatus string

const (
	// SessionActive is the initial state of a started session.
	SessionActive SessionStatus = "active"

	// SessionCompleted is the terminal state of a normally ended session.
	SessionCompleted SessionStatus = "completed"

	// SessionAbandoned is the terminal state of a discarded session.
	SessionAbandoned SessionStatus = "abandoned"
)

// EntityTypeSession tags a MemoryRecord as a session record. A record with
// this entity type always carries a non-nil SessionMeta payload; ordinary
// memory records never do. The pair acts as a tagged variant so callers
// match on the tag instead of probing optional fields.
const EntityTypeSession = "session"

// EntityTypeSessionSummary tags the summary record created when a session
// ends with summarization enabled.
const EntityTypeSessionSummary = "session_summary"

// SessionMeta is the session-specific payload of a session record.
type SessionMeta struct {
	// StartedAt is when the session began.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is when the session ended (nil while active).
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// Status is the session lifecycle state.
	Status SessionStatus `json:"status"`

	// GoalDescription describes what the session is trying to achieve.
	GoalDescription string `json:"goal_description,omitempty"`

	// TaskType classifies the kind of work done in the session.
	TaskType string `json:"task_type,omitempty"`

	// UserIntent captures the user's stated intent for the session.
	UserIntent string `json:"user_intent,omitempty"`

	// MemoryCount is the number of working memories created in the session.
	MemoryCount int `json:"memory_count"`

	// ConsolidatedCount is the number of memories promoted out of the session.
	ConsolidatedCount int `json:"consolidated_count"`

	// PreviousSessionID links to the session this one continues (optional).
	PreviousSessionID string `json:"previous_session_id,omitempty"`

	// RelatedSessionIDs is an undirected adjacency list of linked sessions.
	// It may contain cycles; traversals must track visited ids.
	RelatedSessionIDs []string `json:"related_session_ids,omitempty"`
}

// MemoryRecord is a named, typed node in the memory graph with a list of
// text observations plus lifecycle, access, strength, and provenance state.
type MemoryRecord struct {
	// Name is the unique identifier of the record within the graph.
	Name string `json:"name"`

	// EntityType classifies what kind of entity the record describes
	// (e.g., "note", "preference", "session").
	EntityType string `json:"entity_type"`

	// Observations is the list of text observations attached to the record.
	Observations []string `json:"observations"`

	// MemoryType governs the record's lifecycle rules.
	MemoryType MemoryType `json:"memory_type"`

	// SessionID correlates the record with the session that created it.
	SessionID string `json:"session_id,omitempty"`

	// ConversationID correlates the record with a conversation.
	ConversationID string `json:"conversation_id,omitempty"`

	// TaskID correlates the record with a task.
	TaskID string `json:"task_id,omitempty"`

	// ExpiresAt is the expiry time. Only enforced while MemoryType is
	// working; stale values on other types are ignored.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// IsWorkingMemory mirrors MemoryType == working. Once a record is
	// promoted it becomes false permanently.
	IsWorkingMemory bool `json:"is_working_memory"`

	// PromotedAt is set exactly once, at promotion.
	PromotedAt *time.Time `json:"promoted_at,omitempty"`

	// PromotedFrom records the session the record was promoted out of.
	PromotedFrom string `json:"promoted_from,omitempty"`

	// MarkedForPromotion flags the record as an explicit promotion
	// candidate. Cleared on promotion.
	MarkedForPromotion bool `json:"marked_for_promotion,omitempty"`

	// AccessCount is the number of times the record has been accessed.
	AccessCount int `json:"access_count"`

	// LastAccessedAt is when the record was last accessed or reinforced
	// (nil if never). The decay clock runs from this time.
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// AccessPattern classifies access frequency.
	AccessPattern AccessPattern `json:"access_pattern,omitempty"`

	// Confidence is the strength of belief in the record (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// ConfirmationCount is the number of times the record was confirmed.
	ConfirmationCount int `json:"confirmation_count"`

	// DecayRate is a per-record decay multiplier. 1.0 is the baseline;
	// higher values decay faster. Zero is treated as 1.0.
	DecayRate float64 `json:"decay_rate,omitempty"`

	// AgentID identifies the agent that owns the record.
	AgentID string `json:"agent_id,omitempty"`

	// Visibility controls which agents can see the record.
	Visibility Visibility `json:"visibility,omitempty"`

	// Source records provenance for multi-agent setups.
	Source *SourceInfo `json:"source,omitempty"`

	// Importance is the base value decay operates on (0.0-10.0).
	Importance float64 `json:"importance"`

	// Tags are free-form labels. Tagged records can be protected from
	// forgetting via the forget operation's exclude list.
	Tags []string `json:"tags,omitempty"`

	// SessionMeta is the session payload, non-nil exactly when EntityType
	// is EntityTypeSession.
	SessionMeta *SessionMeta `json:"session_meta,omitempty"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsSession reports whether the record is a session record.
func (r *MemoryRecord) IsSession() bool {
	return r.EntityType == EntityTypeSession && r.SessionMeta != nil
}

// Session returns the session payload, or false if the record is not a
// session record.
func (r *MemoryRecord) Session() (*SessionMeta, bool) {
	if !r.IsSession() {
		return nil, false
	}
	return r.SessionMeta, true
}

// Expired reports whether the record is past its expiry at the given time.
// Expiry only applies to working memory; other types never expire.
func (r *MemoryRecord) Expired(now time.Time) bool {
	if r.MemoryType != MemoryTypeWorking || r.ExpiresAt == nil {
		return false
	}
	return r.ExpiresAt.Before(now)
}

// HasTag reports whether the record carries the given tag.
func (r *MemoryRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// EffectiveDecayRate returns the per-record decay multiplier, defaulting
// to 1.0 when unset.
func (r *MemoryRecord) EffectiveDecayRate() float64 {
	if r.DecayRate <= 0 {
		return 1.0
	}
	return r.DecayRate
}

// Clone returns a deep copy of the record.
func (r *MemoryRecord) Clone() *MemoryRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Observations = append([]string(nil), r.Observations...)
	cp.Tags = append([]string(nil), r.Tags...)
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		cp.ExpiresAt = &t
	}
	if r.PromotedAt != nil {
		t := *r.PromotedAt
		cp.PromotedAt = &t
	}
	if r.LastAccessedAt != nil {
		t := *r.LastAccessedAt
		cp.LastAccessedAt = &t
	}
	if r.Source != nil {
		s := *r.Source
		cp.Source = &s
	}
	if r.SessionMeta != nil {
		m := *r.SessionMeta
		m.RelatedSessionIDs = append([]string(nil), r.SessionMeta.RelatedSessionIDs...)
		if r.SessionMeta.EndedAt != nil {
			t := *r.SessionMeta.EndedAt
			m.EndedAt = &t
		}
		cp.SessionMeta = &m
	}
	return &cp
}

// Relation is a directed, typed edge between two named records.
type Relation struct {
	// From is the name of the source record.
	From string `json:"from"`

	// To is the name of the target record.
	To string `json:"to"`

	// RelationType describes the edge (e.g., "has_summary").
	RelationType string `json:"relation_type"`
}

// RelationHasSummary links a session record to its summary record.
const RelationHasSummary = "has_summary"

// Graph is a full snapshot of the persisted memory graph.
type Graph struct {
	// Entities are all memory and session records.
	Entities []*MemoryRecord `json:"entities"`

	// Relations are all edges between records.
	Relations []*Relation `json:"relations"`
}

// FindEntity returns the record with the given name, or nil.
func (g *Graph) FindEntity(name string) *MemoryRecord {
	for _, e := range g.Entities {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	cp := &Graph{
		Entities:  make([]*MemoryRecord, 0, len(g.Entities)),
		Relations: make([]*Relation, 0, len(g.Relations)),
	}
	for _, e := range g.Entities {
		cp.Entities = append(cp.Entities, e.Clone())
	}
	for _, r := range g.Relations {
		rel := *r
		cp.Relations = append(cp.Relations, &rel)
	}
	return cp
}

// ClampConfidence clamps a confidence or salience value to [0, 1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampImportance clamps an importance value to [0, 10].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
