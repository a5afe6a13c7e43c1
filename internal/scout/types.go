// Package scout defines core types shared across subsystems.
package scout

import (
	"time"
)

// JobType identifies the kind of scrape work a job performs.
type JobType string

// Job types persisted in the job store.
const (
	// JobTypeFollowingSync scrapes the accounts a client follows and
	// links the discovered pages to that client. Its single target ref
	// is the client username.
	JobTypeFollowingSync JobType = "following_sync"
	// JobTypeProfileEnrich scrapes profile details for a batch of page
	// usernames.
	JobTypeProfileEnrich JobType = "profile_enrich"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeFollowingSync, JobTypeProfileEnrich:
		return true
	default:
		return false
	}
}

// JobTypes lists all known job types, for components that sweep per type.
func JobTypes() []JobType {
	return []JobType{JobTypeFollowingSync, JobTypeProfileEnrich}
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents one unit of scheduled scrape work.
//
// StartedAt is set iff the job left pending; CompletedAt is set iff the
// status is terminal. Result is set only on the terminal transition.
type Job struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"job_type"`
	TargetRefs  []string   `json:"target_refs"`
	Status      JobStatus  `json:"status"`
	Result      *JobResult `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Outcome tags a job result payload.
type Outcome string

// Result outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// JobResult is the structured outcome recorded on a terminal job.
type JobResult struct {
	Outcome       Outcome  `json:"outcome"`
	Expected      int      `json:"expected"`
	Scraped       int      `json:"scraped"`
	Failed        int      `json:"failed"`
	Coverage      float64  `json:"coverage"`
	FailedTargets []string `json:"failed_targets,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	ArchiveURI    string   `json:"archive_uri,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Page is the long-lived record a scrape job enriches. Its fields are
// partitioned by authoritative source: Scraped is replaced by each
// successful scrape, Operator is only ever written by humans through
// the API, Linkage is derived from accumulated scrape observations.
type Page struct {
	ID        string             `json:"id"`
	Username  string             `json:"username"`
	Scraped   ScrapedAttributes  `json:"scraped"`
	Operator  OperatorAttributes `json:"operator"`
	Linkage   LinkageAttributes  `json:"linkage"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ScrapedAttributes hold fields whose authoritative source is the
// external scrape.
type ScrapedAttributes struct {
	FullName         string     `json:"full_name,omitempty"`
	FollowerCount    int        `json:"follower_count"`
	FollowingCount   int        `json:"following_count"`
	PostCount        int        `json:"post_count"`
	Biography        string     `json:"biography,omitempty"`
	IsVerified       bool       `json:"is_verified"`
	IsPrivate        bool       `json:"is_private"`
	ContactEmail     string     `json:"contact_email,omitempty"`
	PromoStatus      string     `json:"promo_status,omitempty"`
	PromoSignals     []string   `json:"promo_signals,omitempty"`
	LastScraped      *time.Time `json:"last_scraped,omitempty"`
	LastScrapeStatus string     `json:"last_scrape_status,omitempty"`
}

// OperatorAttributes hold fields only a human may author. The merge
// path never touches them; nil means unset.
type OperatorAttributes struct {
	Category      *string    `json:"category,omitempty"`
	ContactStatus *string    `json:"contact_status,omitempty"`
	PromoPrice    *float64   `json:"promo_price,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	ReviewedBy    *string    `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
}

// LinkageAttributes hold relational facts derived from scrape results.
// ClientRefs grows monotonically: an absent observation never removes
// a previously recorded linkage.
type LinkageAttributes struct {
	ClientRefs  []string `json:"client_refs,omitempty"`
	ClientCount int      `json:"client_count"`
}

// Snapshot is one identity's payload from a scrape capture. Pointer
// fields distinguish "not captured" from a genuine zero value, so a
// partial capture never regresses a previously known attribute.
type Snapshot struct {
	Username        string     `json:"username"`
	FullName        *string    `json:"full_name,omitempty"`
	FollowerCount   *int       `json:"follower_count,omitempty"`
	FollowingCount  *int       `json:"following_count,omitempty"`
	PostCount       *int       `json:"post_count,omitempty"`
	Biography       *string    `json:"biography,omitempty"`
	IsVerified      *bool      `json:"is_verified,omitempty"`
	IsPrivate       *bool      `json:"is_private,omitempty"`
	ContactEmail    *string    `json:"contact_email,omitempty"`
	PromoStatus     *string    `json:"promo_status,omitempty"`
	PromoSignals    []string   `json:"promo_signals,omitempty"`
	ObservedClients []string   `json:"observed_clients,omitempty"`
	CapturedAt      time.Time  `json:"captured_at"`
}

// ProfileBatch is the provider response for a profile_enrich call.
// Some targets may fail while others succeed within one call.
type ProfileBatch struct {
	Snapshots     []Snapshot
	FailedTargets []string
	Raw           []byte
}

// FollowingList is the provider response for a following_sync call.
// ExpectedCount is the account's reported following total, 0 when the
// provider could not determine it.
type FollowingList struct {
	ClientUsername string
	ExpectedCount  int
	Accounts       []Snapshot
	Raw            []byte
}
