// Package featureprobe implements the beta-capability probe cache (spec
// component C6): a per-credential, per-lane tri-state cache of whether
// the upstream accepts an extended-context-window beta header, learned
// by probing and never re-probed once known.
package featureprobe

import (
	"strings"

	"github.com/veilgate/veilgate/internal/credential"
)

// Lane classifies which beta-header family a model belongs to. Only the
// -1M extended-context-window probe is modeled here, per spec.md §4.5;
// other lanes can be added the same way as the upstream surface grows.
type Lane string

const (
	LaneOpus   Lane = "opus"
	LaneSonnet Lane = "sonnet"
	LaneOther  Lane = "other"
)

// LaneOf maps a requested model name to its probe lane.
func LaneOf(model string) Lane {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "opus"):
		return LaneOpus
	case strings.Contains(lower, "sonnet"):
		return LaneSonnet
	default:
		return LaneOther
	}
}

// WantsExtendedContext reports whether the requested model carries the
// "-1m" suffix that triggers the probe, per spec.md §4.5.
func WantsExtendedContext(model string) bool {
	return strings.HasSuffix(strings.ToLower(model), "-1m")
}

// Plan is the outcome of step 1-3 of the probe algorithm: what header
// state to send with this dispatch attempt, and whether the result of
// this specific attempt should be used to learn the lane's flag.
type Plan struct {
	SendBetaHeader bool
	IsProbe        bool // true only when the learned flag was Unknown
}

// BuildPlan implements spec.md §4.5 steps 1-3 given the credential's
// currently learned flag for the model's lane. featureprobe only tracks
// one flag per credential (PremiumWindow), mirroring WebCookie.Features;
// callers that need per-lane granularity should key a map of credential
// ids to Plan upstream of this package.
func BuildPlan(learned credential.TriState, wantsExtendedContext bool) Plan {
	if !wantsExtendedContext {
		return Plan{SendBetaHeader: false}
	}
	switch learned {
	case credential.False:
		return Plan{SendBetaHeader: false}
	case credential.True:
		return Plan{SendBetaHeader: true}
	default:
		return Plan{SendBetaHeader: true, IsProbe: true}
	}
}

// FeatureMentions are substrings that must also appear in a denial body
// for it to count as a denial of *this* feature specifically, so an
// unrelated beta-flag rejection doesn't poison the -1M lane's cache.
var FeatureMentions = []string{"1m", "context", "million"}

// ProbeOutcome is the classification of a probe attempt's HTTP response.
type ProbeOutcome int

const (
	// ProbeInconclusive means the response was neither a success nor a
	// recognizable denial; the flag must not be cached either way.
	ProbeInconclusive ProbeOutcome = iota
	ProbeAccepted
	ProbeDenied
)

// ClassifyProbeResult inspects a probe attempt's outcome and decides
// whether to cache true, cache false, or leave the flag Unknown.
// denialPhrases should come from the live config (config.Config.
// BetaDenialPhrases); passing nil falls back to the spec default set.
func ClassifyProbeResult(status int, body string, denialPhrases []string) ProbeOutcome {
	if status >= 200 && status < 300 {
		return ProbeAccepted
	}
	if status < 400 || status >= 500 {
		return ProbeInconclusive
	}
	if denialPhrases == nil {
		denialPhrases = []string{"not enabled", "not available", "beta", "requires"}
	}
	lower := strings.ToLower(body)
	if !containsAny(lower, denialPhrases) {
		return ProbeInconclusive
	}
	if !containsAny(lower, FeatureMentions) {
		return ProbeInconclusive
	}
	return ProbeDenied
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// LearnedFlag converts a ProbeOutcome into the TriState to persist on
// the credential, or Unknown (no-op) when the result was inconclusive.
func LearnedFlag(outcome ProbeOutcome) credential.TriState {
	switch outcome {
	case ProbeAccepted:
		return credential.True
	case ProbeDenied:
		return credential.False
	default:
		return credential.Unknown
	}
}
