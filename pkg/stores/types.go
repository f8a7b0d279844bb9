package stores

import (
	"context"
	"database/sql"
	"time"
)

// AttemptStatus represents the status of a single apply attempt
type AttemptStatus string

const (
	AttemptStatusRunning   AttemptStatus = "running"
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	AttemptStatusFailed    AttemptStatus = "failed"
	AttemptStatusCancelled AttemptStatus = "cancelled"
)

// Run represents a deployment run
type Run struct {
	ID             string     `json:"id"`
	Environment    string     `json:"environment"`
	TemplatePath   string     `json:"template_path"`
	ParametersPath *string    `json:"parameters_path,omitempty"`
	ResourceGroup  string     `json:"resource_group"`
	Region         string     `json:"region"` // current target, updated on re-resolution
	Tier           string     `json:"tier"`
	State          string     `json:"state"` // engine.RunState vocabulary
	FailureReason  *string    `json:"failure_reason,omitempty"`
	Error          *string    `json:"error,omitempty"`
	MaxAttempts    int        `json:"max_attempts"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Metadata       string     `json:"metadata"` // JSON blob
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Attempt represents one apply attempt within a run
type Attempt struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	Seq         int           `json:"seq"` // 1-based attempt number
	Region      string        `json:"region"`
	Tier        string        `json:"tier"`
	Status      AttemptStatus `json:"status"`
	ErrorKind   *string       `json:"error_kind,omitempty"` // classify.Kind vocabulary
	RuleID      *string       `json:"rule_id,omitempty"`    // classifier signature that matched
	Diagnostic  *string       `json:"diagnostic,omitempty"` // trimmed diagnostic excerpt
	BackoffMs   int64         `json:"backoff_ms"`           // delay scheduled after this attempt, 0 if none
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Fix represents an applied or gated remediation
type Fix struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	AttemptSeq   int       `json:"attempt_seq"` // attempt whose failure triggered the fix
	RuleID       string    `json:"rule_id"`
	Risk         string    `json:"risk"`         // remedy.Risk vocabulary
	Path         string    `json:"path"`         // workspace-relative file the fix edited
	Line         int       `json:"line"`         // 1-based, 0 when the fix is not line-scoped
	Before       string    `json:"before"`       // snippet before the edit
	After        string    `json:"after"`        // snippet after the edit
	Verification string    `json:"verification"` // remedy.Verification vocabulary
	AppliedAt    time.Time `json:"applied_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditEntry mirrors one link of a run's audit chain for queryability.
// The JSONL file written by the audit sink remains the artifact of record.
type AuditEntry struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Payload   string    `json:"payload"` // canonical JSON blob
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// Capability represents a cached region/service discovery result
type Capability struct {
	ID        string     `json:"id"`
	Region    string     `json:"region"`
	Service   string     `json:"service"`
	Tiers     string     `json:"tiers"` // JSON array of tier names
	TTL       int        `json:"ttl"`   // seconds, 0 = no expiry
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunState(ctx context.Context, id string, state string, failureReason *string, errMsg *string) error
	UpdateRunTarget(ctx context.Context, id string, region, tier string) error
	ListRuns(ctx context.Context, environment *string, state *string, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Attempt operations
	CreateAttempt(ctx context.Context, attempt *Attempt) error
	GetAttempt(ctx context.Context, id string) (*Attempt, error)
	UpdateAttemptStatus(ctx context.Context, id string, status AttemptStatus, errorKind, ruleID, diagnostic *string) error
	SetAttemptBackoff(ctx context.Context, id string, backoff time.Duration) error
	ListAttemptsByRun(ctx context.Context, runID string) ([]*Attempt, error)

	// Fix operations
	CreateFix(ctx context.Context, fix *Fix) error
	ListFixesByRun(ctx context.Context, runID string) ([]*Fix, error)

	// Audit operations
	AppendAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntriesByRun(ctx context.Context, runID string) ([]*AuditEntry, error)
	ListAuditEntries(ctx context.Context, runID *string, action *string, limit, offset int) ([]*AuditEntry, error)

	// Capability cache operations. Get/Put satisfy region.CapabilityCache.
	GetCapability(ctx context.Context, regionName, service string) ([]string, bool, error)
	PutCapability(ctx context.Context, regionName, service string, tiers []string, ttl time.Duration) error
	ListCapabilities(ctx context.Context, limit, offset int) ([]*Capability, error)
	DeleteExpiredCapabilities(ctx context.Context) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
