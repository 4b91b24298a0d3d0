package featureprobe

import (
	"testing"

	"github.com/veilgate/veilgate/internal/credential"
)

func TestLaneOfClassifiesModelFamily(t *testing.T) {
	cases := map[string]Lane{
		"claude-opus-4-1m":   LaneOpus,
		"claude-sonnet-4-1m": LaneSonnet,
		"gemini-2.5-pro":     LaneOther,
	}
	for model, want := range cases {
		if got := LaneOf(model); got != want {
			t.Errorf("LaneOf(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestWantsExtendedContextRequiresSuffix(t *testing.T) {
	if !WantsExtendedContext("claude-sonnet-4-1M") {
		t.Fatal("expected case-insensitive -1M suffix match")
	}
	if WantsExtendedContext("claude-sonnet-4") {
		t.Fatal("expected no match without the suffix")
	}
}

func TestBuildPlanFollowsLearnedFlag(t *testing.T) {
	if p := BuildPlan(credential.Unknown, false); p.SendBetaHeader || p.IsProbe {
		t.Fatalf("model without -1m must never send the beta header, got %+v", p)
	}
	if p := BuildPlan(credential.False, true); p.SendBetaHeader {
		t.Fatalf("learned false must skip the header, got %+v", p)
	}
	if p := BuildPlan(credential.True, true); !p.SendBetaHeader || p.IsProbe {
		t.Fatalf("learned true must send without probing, got %+v", p)
	}
	if p := BuildPlan(credential.Unknown, true); !p.SendBetaHeader || !p.IsProbe {
		t.Fatalf("unknown must send as a probe, got %+v", p)
	}
}

func TestClassifyProbeResultAccepted(t *testing.T) {
	if out := ClassifyProbeResult(200, "", nil); out != ProbeAccepted {
		t.Fatalf("expected ProbeAccepted, got %v", out)
	}
}

func TestClassifyProbeResultDeniedRequiresBothPhraseAndFeatureMention(t *testing.T) {
	out := ClassifyProbeResult(400, `{"error":"the 1m context beta is not enabled for this account"}`, nil)
	if out != ProbeDenied {
		t.Fatalf("expected ProbeDenied, got %v", out)
	}
}

func TestClassifyProbeResultInconclusiveWithoutFeatureMention(t *testing.T) {
	out := ClassifyProbeResult(400, `{"error":"this feature is not enabled"}`, nil)
	if out != ProbeInconclusive {
		t.Fatalf("expected ProbeInconclusive when the body never mentions the feature, got %v", out)
	}
}

func TestClassifyProbeResultInconclusiveOn5xx(t *testing.T) {
	if out := ClassifyProbeResult(500, "not enabled 1m context", nil); out != ProbeInconclusive {
		t.Fatalf("expected ProbeInconclusive on 5xx regardless of body, got %v", out)
	}
}

func TestLearnedFlagMapsOutcome(t *testing.T) {
	if LearnedFlag(ProbeAccepted) != credential.True {
		t.Fatal("expected ProbeAccepted -> True")
	}
	if LearnedFlag(ProbeDenied) != credential.False {
		t.Fatal("expected ProbeDenied -> False")
	}
	if LearnedFlag(ProbeInconclusive) != credential.Unknown {
		t.Fatal("expected ProbeInconclusive -> Unknown")
	}
}
