package wal

import (
	"github.com/use-agent/reconweb/models"
)

// Apply folds a sequence of events onto state in order, skipping any
// event whose Seq is already ≤ state.LastSeq, so re-application is an
// idempotent no-op. Returns the same *StateFile, mutated.
func Apply(state *models.StateFile, events []models.WALEvent) *models.StateFile {
	for _, ev := range events {
		state = ApplyEvent(state, ev)
	}
	return state
}

// ApplyEvent folds one event onto state. Every list/map mutation is
// deduplicated by the event's natural key (URL for pages/assets, id
// for fixtures, bundleName for extracted bundles) so replay converges
// to the same state regardless of how many times it runs.
func ApplyEvent(state *models.StateFile, ev models.WALEvent) *models.StateFile {
	if ev.Seq <= state.LastSeq {
		return state
	}

	switch ev.Type {
	case models.EventPhaseStart:
		state.Phases[ev.Phase] = &models.PhaseState{Status: models.PhaseInProgress, StartedAt: ev.Timestamp}

	case models.EventPhaseComplete:
		p := state.Phases[ev.Phase]
		if p == nil {
			p = &models.PhaseState{}
			state.Phases[ev.Phase] = p
		}
		p.Status = models.PhaseCompleted
		p.CompletedAt = ev.Timestamp

	case models.EventPhaseFail:
		p := state.Phases[ev.Phase]
		if p == nil {
			p = &models.PhaseState{}
			state.Phases[ev.Phase] = p
		}
		p.Status = models.PhaseFailed
		p.Error = ev.Error
		p.CompletedAt = ev.Timestamp

	case models.EventScrapeResult:
		state.Scrape = ev.Scrape

	case models.EventExtractBundle:
		if state.Extract == nil {
			state.Extract = &models.ExtractState{Bundles: map[string]models.BundleManifest{}}
		}
		if ev.BundleManifest != nil {
			state.Extract.Bundles[ev.BundleName] = *ev.BundleManifest
		}

	case models.EventCapturePageStarted:
		c := ensureCapture(state)
		c.PendingURLs = removeString(c.PendingURLs, ev.URL)
		c.InProgressURLs = appendUnique(c.InProgressURLs, ev.URL)
		c.VisitedURLs = appendUnique(c.VisitedURLs, ev.URL)

	case models.EventCapturePageCompleted:
		c := ensureCapture(state)
		c.InProgressURLs = removeString(c.InProgressURLs, ev.URL)
		c.PendingURLs = removeString(c.PendingURLs, ev.URL)
		c.CompletedURLs = appendUnique(c.CompletedURLs, ev.URL)
		for _, fx := range ev.Fixtures {
			c.Fixtures[fx.ID] = fx
		}
		for _, asset := range ev.Assets {
			c.Assets[asset.URL] = asset
		}

	case models.EventCapturePageFailed:
		c := ensureCapture(state)
		c.InProgressURLs = removeString(c.InProgressURLs, ev.URL)
		c.VisitedURLs = appendUnique(c.VisitedURLs, ev.URL)

	case models.EventCaptureURLsDiscovered:
		c := ensureCapture(state)
		for _, u := range ev.DiscoveredURLs {
			if contains(c.CompletedURLs, u) || contains(c.InProgressURLs, u) || contains(c.VisitedURLs, u) {
				continue
			}
			c.PendingURLs = appendUnique(c.PendingURLs, u)
			c.VisitedURLs = appendUnique(c.VisitedURLs, u)
		}

	case models.EventRebuildResult:
		if state.Rebuild == nil {
			state.Rebuild = &models.RebuildState{}
		}
		state.Rebuild.Result = ev.Rebuild

	case models.EventWALCompacted:
		// No data mutation beyond LastSeq below — this event only
		// marks the point a compaction ran through.
	}

	state.LastSeq = ev.Seq
	state.LastUpdatedAt = ev.Timestamp
	return state
}

func ensureCapture(state *models.StateFile) *models.CaptureState {
	if state.Capture == nil {
		state.Capture = &models.CaptureState{
			Fixtures: map[string]models.ApiFixture{},
			Assets:   map[string]models.CapturedAsset{},
		}
	}
	if state.Capture.Fixtures == nil {
		state.Capture.Fixtures = map[string]models.ApiFixture{}
	}
	if state.Capture.Assets == nil {
		state.Capture.Assets = map[string]models.CapturedAsset{}
	}
	return state.Capture
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
