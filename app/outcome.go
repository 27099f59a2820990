package app

import (
	"time"

	"weatherwise/weather"
)

// Case is the presentation outcome of one engine action.
type Case string

const (
	// CaseFresh: the forecast fetch succeeded and was rendered.
	CaseFresh Case = "fresh"
	// CasePreconditionFallback: a step before the forecast failed and a
	// cached entry was rendered under a warning banner.
	CasePreconditionFallback Case = "precondition_fallback"
	// CaseFetchFallback: a network call failed, or a search found nothing,
	// and a cached entry was rendered under a warning banner.
	CaseFetchFallback Case = "fetch_fallback"
	// CaseBlockingError: something failed and there was nothing cached to
	// show, so a blocking error screen was rendered.
	CaseBlockingError Case = "blocking_error"
	// CaseSuperseded: a newer action took over; nothing was rendered.
	CaseSuperseded Case = "superseded"
	// CaseRerendered: no network was involved; the current view was redrawn.
	CaseRerendered Case = "rerendered"
	// CaseNoop: nothing changed on screen.
	CaseNoop Case = "noop"
)

// Reason says why an action did not end in CaseFresh.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonOffline          Reason = "offline"
	ReasonUnreachable      Reason = "unreachable"
	ReasonNotFound         Reason = "not_found"
	ReasonEmptyQuery       Reason = "empty_query"
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonUnavailable      Reason = "position_unavailable"
	ReasonTimedOut         Reason = "timed_out"
	ReasonStorage          Reason = "storage"
)

// Outcome is what an action did.
type Outcome struct {
	Case     Case
	Reason   Reason
	Location weather.Location
}

// Blocking reports whether the action ended on an error screen.
func (o Outcome) Blocking() bool { return o.Case == CaseBlockingError }

// Rendered reports whether weather content is on screen after the action.
func (o Outcome) Rendered() bool {
	switch o.Case {
	case CaseFresh, CasePreconditionFallback, CaseFetchFallback, CaseRerendered:
		return true
	}
	return false
}

// BannerKind is the severity of a banner.
type BannerKind string

const (
	BannerInfo    BannerKind = "info"
	BannerSuccess BannerKind = "success"
	BannerWarning BannerKind = "warning"
	BannerError   BannerKind = "error"
)

// Result is one renderable weather view.
type Result struct {
	Location weather.Location
	Snapshot weather.Snapshot
	Units    weather.Units
	Cached   bool
	StoredAt time.Time
	Favorite bool
}

// Renderer is the presentation layer.
type Renderer interface {
	// ShowLoading enters the loading state.
	ShowLoading()
	// ShowError replaces any weather content with a blocking error and a
	// retry affordance.
	ShowError(title, message string)
	RenderResult(r Result)
	// ShowBanner displays a banner over the current content. Auto-dismissing
	// banners disappear on their own after a fixed window.
	ShowBanner(kind BannerKind, message string, autoDismiss bool)
	HideBanner()
}
