package credential

import (
	"testing"
	"time"
)

func TestFamilyOfClassifiesKnownModels(t *testing.T) {
	cases := map[string]Family{
		"claude-3-opus-20240229":   FamilyOpus,
		"claude-3-5-sonnet-latest": FamilySonnet,
		"claude-3-haiku-20240307":  FamilyOther,
		"gemini-1.5-pro":           FamilyOther,
	}
	for model, want := range cases {
		if got := FamilyOf(model); got != want {
			t.Errorf("FamilyOf(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestOAuthTokenClassify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	var nilToken *OAuthToken
	if got := nilToken.Classify(now); got != TokenNone {
		t.Fatalf("nil token: got %v, want TokenNone", got)
	}

	expired := &OAuthToken{ExpiresAt: now.Add(-time.Second)}
	if got := expired.Classify(now); got != TokenExpired {
		t.Fatalf("expired token: got %v, want TokenExpired", got)
	}

	// invariant 2: ExpiresAt strictly future at construction implies Valid.
	valid := &OAuthToken{ExpiresAt: now.Add(time.Hour)}
	if got := valid.Classify(now); got != TokenValid {
		t.Fatalf("valid token: got %v, want TokenValid", got)
	}
}

func TestWindowResetEnforcesHasResetInvariant(t *testing.T) {
	w := Window{Breakdown: UsageBreakdown{InputTokens: 10, OutputTokens: 5}}
	future := time.Unix(2_000_000_000, 0)

	w.Reset(&future)
	if w.HasReset != True || w.ResetsAt == nil {
		t.Fatalf("invariant 5 violated: HasReset=%v ResetsAt=%v", w.HasReset, w.ResetsAt)
	}
	if w.Breakdown.InputTokens != 0 || w.Breakdown.OutputTokens != 0 {
		t.Fatalf("Reset must zero the breakdown, got %+v", w.Breakdown)
	}

	w.Reset(nil)
	if w.HasReset != False || w.ResetsAt != nil {
		t.Fatalf("invariant 5 violated on nil reset: HasReset=%v ResetsAt=%v", w.HasReset, w.ResetsAt)
	}
}

func TestWindowNeedsReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	past := now.Add(-time.Minute)
	w := Window{ResetsAt: &past}
	if !w.NeedsReset(now) {
		t.Fatal("expected NeedsReset once the boundary has passed")
	}

	future := now.Add(time.Minute)
	w2 := Window{ResetsAt: &future}
	if w2.NeedsReset(now) {
		t.Fatal("did not expect NeedsReset before the boundary")
	}
}

func TestRollingUsageAddFamilyCreatesBucketLazily(t *testing.T) {
	var u RollingUsage
	u.AddFamily(FamilyOpus, 100, 50)
	u.AddFamily(FamilyOpus, 10, 5)

	got := u.WeeklyPerFamily[FamilyOpus].Breakdown
	if got.InputTokens != 110 || got.OutputTokens != 55 {
		t.Fatalf("got %+v, want {110 55}", got)
	}
	if _, ok := u.WeeklyPerFamily[FamilySonnet]; ok {
		t.Fatal("must not create buckets for families never seen")
	}
}

func TestCliTokenNeedsRefreshRespectsFiveMinuteLead(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	noExpiry := &CliToken{AccessToken: "tok"}
	if noExpiry.NeedsRefresh(now) {
		t.Fatal("a token with no ExpiresAt and no refresh metadata never needs refresh")
	}

	withinLead := now.Add(4 * time.Minute)
	tok := &CliToken{
		AccessToken: "tok",
		ExpiresAt:   &withinLead,
		Refresh:     &CliRefreshMeta{RefreshToken: "r"},
	}
	if !tok.NeedsRefresh(now) {
		t.Fatal("expected refresh once within the 5-minute lead")
	}

	beyondLead := now.Add(10 * time.Minute)
	tok2 := &CliToken{
		AccessToken: "tok",
		ExpiresAt:   &beyondLead,
		Refresh:     &CliRefreshMeta{RefreshToken: "r"},
	}
	if tok2.NeedsRefresh(now) {
		t.Fatal("did not expect refresh well before expiry")
	}
}

func TestRedactedNeverExposesFullSecret(t *testing.T) {
	creds := []Credential{
		&WebCookie{Cookie: "sk-ant-REDACTED"},
		&ApiKey{Key: "AIzaSyVeryLongRealLookingKeyValue"},
		&CliToken{AccessToken: "ya29.averylongbearertokenvalue"},
		&ServiceAccount{ID: "sa-1", Credential: ServiceAccountKey{ClientEmail: "svc@project.iam.gserviceaccount.com"}},
	}
	for _, c := range creds {
		r := c.Redacted()
		if r == c.PrimaryKey() && len(c.PrimaryKey()) > 10 {
			t.Errorf("Redacted() must truncate long secrets, got %q", r)
		}
	}
}

func TestWebCookieIsPro(t *testing.T) {
	free := &WebCookie{OrgCapabilities: []string{"chat"}}
	if free.IsPro() {
		t.Fatal("plain chat capability must not count as pro")
	}
	pro := &WebCookie{OrgCapabilities: []string{"chat", "claude_pro"}}
	if !pro.IsPro() {
		t.Fatal("expected a capability containing \"pro\" to be detected")
	}
}

func TestReasonBucketClassification(t *testing.T) {
	cases := []struct {
		reason Reason
		want   Bucket
	}{
		{Reason{Kind: ReasonNull}, BucketValid},
		{Reason{Kind: ReasonNormalPristine}, BucketValid},
		{Reason{Kind: ReasonTooManyRequests}, BucketExhausted},
		{Reason{Kind: ReasonInvalidAuth}, BucketInvalid},
		{Reason{Kind: ReasonForbidden}, BucketInvalid},
		{Reason{Kind: ReasonBanned}, BucketInvalid},
		{Reason{Kind: ReasonOther}, BucketInvalid},
	}
	for _, c := range cases {
		if got := c.reason.Bucket(); got != c.want {
			t.Errorf("Reason{%v}.Bucket() = %v, want %v", c.reason.Kind, got, c.want)
		}
	}
}

func TestReasonRecoverable(t *testing.T) {
	if !(Reason{Kind: ReasonTooManyRequests}).Recoverable() {
		t.Fatal("a rate-limited credential must be recoverable once its reset passes")
	}
	if (Reason{Kind: ReasonBanned}).Recoverable() {
		t.Fatal("a banned credential must never be treated as recoverable")
	}
}
