package models

// PhaseName identifies one stage of the orchestrator's linear state machine.
type PhaseName string

const (
	PhaseScrape       PhaseName = "scrape"
	PhaseExtract      PhaseName = "extract"
	PhaseDependencies PhaseName = "dependencies"
	PhaseCapture      PhaseName = "capture"
	PhaseRebuild      PhaseName = "rebuild"
)

// PhaseStatus is the lifecycle status of one phase.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in-progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// PhaseState is the recorded status of one phase inside a StateFile.
type PhaseState struct {
	Status      PhaseStatus `json:"status"`
	StartedAt   string      `json:"startedAt,omitempty"`
	CompletedAt string      `json:"completedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// ScrapeState aggregates the scrape phase's output.
type ScrapeState struct {
	Bundles  []BundleRef   `json:"bundles"`
	Redirect *RedirectEdge `json:"redirect,omitempty"`
}

// ExtractState aggregates the extract phase's output, keyed by bundle name
// (the natural key used for idempotent replay dedup).
type ExtractState struct {
	Bundles map[string]BundleManifest `json:"bundles"`
}

// CaptureState aggregates the capture phase's in-flight BFS state. A URL
// present in CompletedURLs never appears in PendingURLs or InProgressURLs.
type CaptureState struct {
	PendingURLs    []string                 `json:"pendingUrls"`
	InProgressURLs []string                 `json:"inProgressUrls"`
	CompletedURLs  []string                 `json:"completedUrls"`
	VisitedURLs    []string                 `json:"visitedUrls"`
	Fixtures       map[string]ApiFixture    `json:"fixtures"`
	Assets         map[string]CapturedAsset `json:"assets"`
}

// RebuildResult is the outcome of the (delegated) rebuild phase.
type RebuildResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RebuildState aggregates the rebuild phase's output.
type RebuildState struct {
	Result *RebuildResult `json:"result,omitempty"`
}

// StateFile is the compacted, whole-state snapshot produced by folding WAL
// events onto the prior snapshot.
type StateFile struct {
	LastSeq       uint64                      `json:"lastSeq"`
	LastUpdatedAt string                      `json:"lastUpdatedAt"`
	Phases        map[PhaseName]*PhaseState   `json:"phases"`
	Scrape        *ScrapeState                `json:"scrape,omitempty"`
	Extract       *ExtractState               `json:"extract,omitempty"`
	Capture       *CaptureState               `json:"capture,omitempty"`
	Rebuild       *RebuildState               `json:"rebuild,omitempty"`
}

// NewStateFile returns an empty StateFile with all phases pending.
func NewStateFile() *StateFile {
	phases := make(map[PhaseName]*PhaseState, 5)
	for _, p := range []PhaseName{PhaseScrape, PhaseExtract, PhaseDependencies, PhaseCapture, PhaseRebuild} {
		phases[p] = &PhaseState{Status: PhasePending}
	}
	return &StateFile{
		Phases:  phases,
		Extract: &ExtractState{Bundles: map[string]BundleManifest{}},
		Capture: &CaptureState{
			Fixtures: map[string]ApiFixture{},
			Assets:   map[string]CapturedAsset{},
		},
	}
}

// EventType discriminates a WALEvent's payload.
type EventType string

const (
	EventPhaseStart           EventType = "phase:start"
	EventPhaseComplete        EventType = "phase:complete"
	EventPhaseFail            EventType = "phase:fail"
	EventScrapeResult         EventType = "scrape:result"
	EventExtractBundle        EventType = "extract:bundle"
	EventCapturePageStarted   EventType = "capture:page:started"
	EventCapturePageCompleted EventType = "capture:page:completed"
	EventCapturePageFailed    EventType = "capture:page:failed"
	EventCaptureURLsDiscovered EventType = "capture:urls:discovered"
	EventRebuildResult        EventType = "rebuild:result"
	EventWALCompacted         EventType = "wal:compacted"
)

// WALEvent is the tagged union of every durable progress event. Per-type
// fields are grouped below the discriminator; only the fields relevant to
// Type are populated. This flat "enum plus variant payload" shape is used
// instead of a nominal class hierarchy, matching the error taxonomy's
// approach to tagged data.
type WALEvent struct {
	Seq       uint64    `json:"seq"`
	Timestamp string    `json:"timestamp"`
	Type      EventType `json:"type"`

	// phase:start / phase:complete / phase:fail
	Phase PhaseName `json:"phase,omitempty"`
	Error string    `json:"error,omitempty"`

	// scrape:result
	Scrape *ScrapeState `json:"scrape,omitempty"`

	// extract:bundle
	BundleName     string          `json:"bundleName,omitempty"`
	BundleManifest *BundleManifest `json:"bundleManifest,omitempty"`

	// capture:page:started / completed / failed
	URL      string       `json:"url,omitempty"`
	Fixtures []ApiFixture `json:"fixtures,omitempty"`
	Assets   []CapturedAsset `json:"assets,omitempty"`

	// capture:urls:discovered
	DiscoveredURLs []string `json:"discoveredUrls,omitempty"`
	DiscoveredDepth int      `json:"discoveredDepth,omitempty"`

	// rebuild:result
	Rebuild *RebuildResult `json:"rebuild,omitempty"`

	// wal:compacted
	CompactedThroughSeq uint64 `json:"compactedThroughSeq,omitempty"`
}
