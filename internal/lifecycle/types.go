// Package lifecycle holds the domain model for externally-sourced content
// records and the pure decision logic applied to them: final-state
// resolution, fetch-health classification, and the bootstrap circuit
// breaker. Nothing in this package performs I/O.
package lifecycle

import "time"

// Status is a content item's lifecycle status in the source's vocabulary.
type Status string

const (
	StatusOngoing   Status = "ONGOING"
	StatusHiatus    Status = "HIATUS"
	StatusCompleted Status = "COMPLETED"
)

// EventType identifies the lifecycle transition a CDC event records.
type EventType string

const (
	EventContentCompleted EventType = "CONTENT_COMPLETED"
	EventContentPublished EventType = "CONTENT_PUBLISHED"
)

// ResolvedBy tags the provenance of a final state.
type ResolvedBy string

const (
	ResolvedByCrawler  ResolvedBy = "crawler"
	ResolvedByOverride ResolvedBy = "override"
)

// Mode is the collection mode of a run. Verify is the cheap default pass;
// bootstrap is the expensive full re-collection used to populate an empty
// store.
type Mode string

const (
	ModeVerify    Mode = "verify"
	ModeBootstrap Mode = "bootstrap"
)

// ContentRecord is one externally-sourced content item, identified by the
// composite key (ContentID, Source).
type ContentRecord struct {
	ContentID  string
	Source     string
	Title      string
	Attributes map[string]string
	Status     Status
	Deleted    bool
	UpdatedAt  time.Time
}

// Override is an administrator correction for a single content item. At
// most one active row exists per (ContentID, Source). A non-nil
// OverrideCompletedAt schedules the completion for a future (or past)
// instant instead of applying it immediately.
type Override struct {
	ContentID           string
	Source              string
	OverrideStatus      Status
	OverrideCompletedAt *time.Time
	Reason              string
	AdminID             string
}

// PublicationMetadata schedules the public visibility of a content item.
type PublicationMetadata struct {
	ContentID string
	Source    string
	PublicAt  *time.Time
}

// FinalState is the authoritative status of an item after merging its raw
// crawl status with any override.
type FinalState struct {
	Status      Status
	CompletedAt *time.Time
	ResolvedBy  ResolvedBy
}

// CDCEvent is a durable record of a detected lifecycle transition. At most
// one row ever exists per (ContentID, Source, EventType).
type CDCEvent struct {
	ID               int64      `json:"id"`
	ContentID        string     `json:"content_id"`
	Source           string     `json:"source"`
	EventType        EventType  `json:"event_type"`
	FinalStatus      Status     `json:"final_status"`
	FinalCompletedAt *time.Time `json:"final_completed_at,omitempty"`
	ResolvedBy       ResolvedBy `json:"resolved_by"`
	CreatedAt        time.Time  `json:"created_at"`
}

// EventConsumption marks that a named downstream consumer has processed a
// CDC event. Rows are insert-only and never overwritten.
type EventConsumption struct {
	ConsumerName string
	EventID      int64
	Status       string
	Reason       string
	ConsumedAt   time.Time
}

// NormalizedItem is one item of a collector snapshot, already normalized
// out of the source's raw representation.
type NormalizedItem struct {
	ContentID  string
	Title      string
	Status     Status
	Attributes map[string]string
}

// BucketAssignment groups the content IDs of a snapshot by their fetched
// status bucket.
type BucketAssignment struct {
	Ongoing   []string
	Hiatus    []string
	Completed []string
}

// RunMeta is the error/health metadata a collector reports for one run.
// Per-item failures are aggregated into Errors, never raised.
type RunMeta struct {
	Errors            []string
	FetchedCount      int
	ExpectedCountHint int
	SuspiciousEmpty   bool
}

// SourceSnapshot is the read-only prior state of one source, taken before
// collection starts: raw statuses and active overrides keyed by content ID,
// plus the persisted row count.
type SourceSnapshot struct {
	Statuses  map[string]Status
	Overrides map[string]*Override
	RowCount  int
}

// RunStatus is the externally-visible health of a finished run.
type RunStatus string

const (
	RunOK   RunStatus = "ok"
	RunWarn RunStatus = "warn"
	RunFail RunStatus = "fail"
)

// RunReport is the persisted outcome of one orchestrator run or sweep. It
// feeds the bootstrap circuit breaker and external digest services.
type RunReport struct {
	ID          int64
	CrawlerName string
	Status      RunStatus
	Report      ReportData
	CreatedAt   time.Time
}

// ReportData is the JSON body of a run report.
type ReportData struct {
	DurationMS     int64         `json:"duration_ms"`
	Mode           string        `json:"mode,omitempty"`
	NewCount       int           `json:"new_count"`
	NewlyCompleted []string      `json:"newly_completed,omitempty"`
	CDC            CDCSummary    `json:"cdc"`
	Health         HealthSummary `json:"health"`
}

// CDCSummary describes what the run did about event emission.
type CDCSummary struct {
	Mode             string         `json:"mode"`
	InsertedCount    int            `json:"inserted_count"`
	SkippedCount     int            `json:"skipped_count,omitempty"`
	ResolvedByCounts map[string]int `json:"resolved_by_counts,omitempty"`
	SkipReason       string         `json:"skip_reason,omitempty"`
}

// CDC emission modes recorded in run reports.
const (
	CDCModeEmit = "emit"
	CDCModeSkip = "skip"
)

// HealthSummary is the fetch-health section of a run report.
type HealthSummary struct {
	ErrorCount    int      `json:"error_count"`
	FetchedCount  int      `json:"fetched_count"`
	ExpectedCount int      `json:"expected_count"`
	FetchRatio    float64  `json:"fetch_ratio"`
	Degraded      bool     `json:"degraded"`
	Errors        []string `json:"errors,omitempty"`
}

// IsBootstrap reports whether this run was a bootstrap-mode attempt.
func (r RunReport) IsBootstrap() bool {
	return r.Report.Mode == string(ModeBootstrap)
}
