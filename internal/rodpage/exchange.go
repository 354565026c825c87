// Package rodpage adapts go-rod's request-hijacking capability into
// the Page/Request/Response capture surface the capture engines
// consume: one HijackRouter over a page, every response handed off by
// resource type.
package rodpage

// Exchange is one captured request/response pair, independent of the
// browser driver so the capture engines can be tested without a real
// page.
type Exchange struct {
	Method       string
	URL          string
	ResourceType string // "Document", "Script", "Stylesheet", "Image", "Font", "Media", "XHR", "Fetch", ...
	IsNavigation bool

	RequestHeaders map[string]string
	RequestBody    []byte

	Status          int
	StatusText      string
	ResponseHeaders map[string]string
	ResponseBody    []byte

	SourcePageURL  string
	ResponseTimeMs int64
}
