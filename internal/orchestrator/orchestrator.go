// Package orchestrator implements the per-request retry state machine
// (spec component C7): lease a credential, ensure its auth material is
// fresh, dispatch to the upstream, classify the outcome, and either
// return the credential for reuse or retry with a fresh lease.
//
// This package wires internal/actor, internal/tokenlifecycle, internal/
// featureprobe and internal/upstream together for the WebCookie/Anthropic
// dispatch path — the richest of the four credential families and the
// one spec.md §4.6's state diagram and §4.5's probe algorithm describe in
// full. The same shape (lease/ensure/dispatch/classify/return) applies to
// the other three families through their own upstream clients; they are
// intentionally not duplicated here since none of them carry the token
// lifecycle or feature-probe complexity this package exists to exercise.
package orchestrator

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/veilgate/veilgate/internal/actor"
	"github.com/veilgate/veilgate/internal/credential"
	"github.com/veilgate/veilgate/internal/featureprobe"
	"github.com/veilgate/veilgate/internal/stopmatcher"
	"github.com/veilgate/veilgate/internal/streaming"
	"github.com/veilgate/veilgate/internal/tokenlifecycle"
	"github.com/veilgate/veilgate/internal/upstream"
)

// sessionWindow and weeklyWindow are the two rolling-usage durations
// named in spec.md §4.7.
const (
	sessionWindow = 5 * time.Hour
	weeklyWindow  = 7 * 24 * time.Hour
)

// extendedContextBeta is the literal anthropic-beta token the -1m probe
// negotiates, the same value the teacher's amp proxy module special-cases
// when stripping beta headers for non-OAuth callers.
const extendedContextBeta = "context-1m-2025-08-07"

// UsageBoundaryFetcher queries the upstream for a rolling window's next
// reset boundary. spec.md §4.7 names this step but not a concrete
// upstream endpoint, so it is injected rather than hardcoded; a nil
// fetcher always takes the fallback path (`now + window`, zeroed).
type UsageBoundaryFetcher func(ctx context.Context) (*time.Time, error)

// Config holds the orchestrator's tunables, mirroring the relevant
// fields of config.Config so this package doesn't need to import it
// wholesale.
type Config struct {
	MaxRetries         int
	ForbiddenThreshold int
	BetaDenialPhrases  []string
	TokenEndpoint      string
	ClientID           string
	ClientSecret       string

	// Sentinel and ContinuationPrompt parameterize the anti-truncation
	// loop (spec.md §4.7(b)); AntiTruncationMaxAttempts defaults to
	// streaming.DefaultMaxAttempts (3) when zero.
	Sentinel                string
	ContinuationPrompt      string
	AntiTruncationMaxAttempts int
}

// Orchestrator drives the WebCookie/Anthropic dispatch path.
type Orchestrator struct {
	Pool       *actor.Pool[*credential.WebCookie]
	Client     *upstream.AnthropicClient
	Refresher  *tokenlifecycle.Refresher
	Limiter    *rate.Limiter
	Cfg        Config
	UsageBoundary UsageBoundaryFetcher
}

// New builds an Orchestrator. limiter may be nil, in which case dispatch
// is never rate-paced (suitable for tests and for upstreams without a
// known rate budget).
func New(pool *actor.Pool[*credential.WebCookie], client *upstream.AnthropicClient, refresher *tokenlifecycle.Refresher, limiter *rate.Limiter, cfg Config) *Orchestrator {
	return &Orchestrator{Pool: pool, Client: client, Refresher: refresher, Limiter: limiter, Cfg: cfg}
}

// Result is a materialized non-streaming dispatch outcome.
type Result struct {
	StatusCode int
	Body       []byte
	Usage      credential.UsageBreakdown
}

// Dispatch runs the full lease/ensure/dispatch/classify/return loop for a
// single non-streaming request, per spec.md §4.6's state diagram.
func (o *Orchestrator) Dispatch(ctx context.Context, model string, body []byte) (*Result, error) {
	maxAttempts := o.Cfg.MaxRetries + 1
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		cred, err := o.Pool.Request(ctx)
		if err != nil {
			return nil, err
		}

		if err := o.ensureAuth(ctx, cred); err != nil {
			// A cookie with no paired token at all cannot be fixed inline
			// (the authorization-code flow needs an interactive browser
			// step, run out-of-band by the login helper) — this is a
			// non-retryable misconfiguration, propagated immediately per
			// spec.md §4.6's "any other non-retryable error" branch.
			o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
			return nil, err
		}

		if o.Limiter != nil {
			if err := o.Limiter.Wait(ctx); err != nil {
				o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
				return nil, err
			}
		}

		plan := featureprobe.BuildPlan(cred.Features.PremiumWindow, featureprobe.WantsExtendedContext(model))
		betaHeader := ""
		if plan.SendBetaHeader {
			betaHeader = extendedContextBeta
		}

		resp, dispatchErr := o.Client.Messages(ctx, cred, body, betaHeader)
		if dispatchErr != nil {
			o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonOther, Message: dispatchErr.Error()})
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonOther, Message: readErr.Error()})
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if plan.IsProbe {
				cred.Features.PremiumWindow = credential.True
				o.Pool.Update(ctx, cred)
			}
			usage, _ := extractUsage(respBody)
			o.accumulateUsage(ctx, cred, credential.FamilyOf(model), usage, time.Now())
			o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
			return &Result{StatusCode: resp.StatusCode, Body: respBody, Usage: usage}, nil
		}

		if plan.IsProbe && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			outcome := featureprobe.ClassifyProbeResult(resp.StatusCode, string(respBody), o.Cfg.BetaDenialPhrases)
			if outcome == featureprobe.ProbeDenied {
				cred.Features.PremiumWindow = credential.False
				o.Pool.Update(ctx, cred)
				// Per spec.md §4.5: do not cool down the credential, just
				// retry without the beta token on a fresh attempt.
				o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
				continue
			}
		}

		apiErr := classifyUpstreamError(resp.StatusCode, respBody, resp.Header)
		if !apiErr.retryable {
			o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
			return nil, apiErr.err
		}
		// WebCookie carries no count_403 counter (spec.md §3's threshold
		// applies only to ApiKey/CliToken/ServiceAccount); a 403 here
		// retires the cookie outright via ToReason's ReasonForbidden.
		o.Pool.Return(ctx, cred, apiErr.err.ToReason(apiErr.resetAtUnix))
	}

	return nil, &credential.Error{Kind: credential.TooManyRetries}
}

// DispatchStream runs the streaming counterpart of Dispatch (spec.md
// §4.6's "on success, streaming: hand to the streaming engine (4.7)").
// Credential leasing, token refresh, feature-probe classification, and
// 429/403/5xx retry with a fresh lease apply identically to Dispatch for
// the attempt that establishes the stream. Once that attempt succeeds
// (2xx, text/event-stream), the lease is held for the stream's duration:
// the anti-truncation continuation loop's own re-dispatches reuse the
// same credential rather than re-entering the outer retry loop, since a
// stream cannot transparently change which credential is narrating it to
// the client partway through. A continuation-attempt failure is
// terminal for the stream (the partial SSE body is simply closed),
// matching how spec.md describes §4.6's retry loop for a single dispatch
// decision rather than an open-ended mid-stream one.
func (o *Orchestrator) DispatchStream(ctx context.Context, model string, body []byte, dst io.Writer) error {
	maxAttempts := o.Cfg.MaxRetries + 1
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		cred, err := o.Pool.Request(ctx)
		if err != nil {
			return err
		}

		if err := o.ensureAuth(ctx, cred); err != nil {
			o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
			return err
		}

		if o.Limiter != nil {
			if err := o.Limiter.Wait(ctx); err != nil {
				o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
				return err
			}
		}

		plan := featureprobe.BuildPlan(cred.Features.PremiumWindow, featureprobe.WantsExtendedContext(model))
		betaHeader := ""
		if plan.SendBetaHeader {
			betaHeader = extendedContextBeta
		}

		firstBody, err := streaming.AnthropicSystemInjector(body, 0, o.sentinel(), o.Cfg.ContinuationPrompt)
		if err != nil {
			o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
			return err
		}

		resp, dispatchErr := o.Client.Messages(ctx, cred, firstBody, betaHeader)
		if dispatchErr != nil {
			o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonOther, Message: dispatchErr.Error()})
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			if plan.IsProbe && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				outcome := featureprobe.ClassifyProbeResult(resp.StatusCode, string(respBody), o.Cfg.BetaDenialPhrases)
				if outcome == featureprobe.ProbeDenied {
					cred.Features.PremiumWindow = credential.False
					o.Pool.Update(ctx, cred)
					o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
					continue
				}
			}

			apiErr := classifyUpstreamError(resp.StatusCode, respBody, resp.Header)
			if !apiErr.retryable {
				o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
				return apiErr.err
			}
			o.Pool.Return(ctx, cred, apiErr.err.ToReason(apiErr.resetAtUnix))
			continue
		}

		if plan.IsProbe {
			cred.Features.PremiumWindow = credential.True
			o.Pool.Update(ctx, cred)
		}

		streamErr := o.runStream(ctx, cred, betaHeader, model, body, resp, dst)
		o.Pool.Return(ctx, cred, credential.Reason{Kind: credential.ReasonNull})
		return streamErr
	}

	return &credential.Error{Kind: credential.TooManyRetries}
}

// sentinel returns the configured anti-truncation sentinel, defaulting
// to the literal wire token named in spec.md §4.7(b).
func (o *Orchestrator) sentinel() string {
	if o.Cfg.Sentinel != "" {
		return o.Cfg.Sentinel
	}
	return "[done]"
}

// runStream chains the three streaming stages (spec.md §4.7): the
// anti-truncation loop consumes the already-established first response
// and any further continuation attempts, its output is routed through
// the stop-sequence rewriter (built per-request from the request body's
// own `stop_sequences` field), and that in turn through the usage-
// accumulating passthrough that finally writes to dst.
func (o *Orchestrator) runStream(ctx context.Context, cred *credential.WebCookie, betaHeader, model string, originalBody []byte, firstResp *http.Response, dst io.Writer) error {
	matcher := stopmatcher.New(stopSequencesFrom(originalBody))

	// antiTruncReader/antiTruncWriter: anti-truncation's output, read by
	// the stop-sequence rewriter. stopRewriteReader/stopRewriteWriter:
	// the rewriter's output, read by the final usage-accumulating pass.
	antiTruncReader, antiTruncWriter := io.Pipe()
	stopRewriteReader, stopRewriteWriter := io.Pipe()

	errCh := make(chan error, 2)

	go func() {
		at := &streaming.AntiTruncation{
			Cfg: streaming.AntiTruncationConfig{
				Sentinel:           o.sentinel(),
				ContinuationPrompt: o.Cfg.ContinuationPrompt,
				MaxAttempts:        o.Cfg.AntiTruncationMaxAttempts,
			},
			Inject: streaming.AnthropicSystemInjector,
			Dispatch: func(ctx context.Context, attemptBody []byte) (*http.Response, error) {
				return o.Client.Messages(ctx, cred, attemptBody, betaHeader)
			},
		}
		err := at.RunFrom(ctx, antiTruncWriter, originalBody, firstResp)
		antiTruncWriter.CloseWithError(err)
	}()

	go func() {
		err := streaming.RewriteStopSequences(stopRewriteWriter, antiTruncReader, "", matcher)
		// The rewriter can return before antiTruncReader reaches EOF (a
		// matched stop sequence ends the stream early). Closing the read
		// end here makes any further anti-truncation writes fail fast
		// with ErrClosedPipe instead of blocking forever on a reader that
		// has stopped consuming.
		antiTruncReader.CloseWithError(err)
		errCh <- err
		stopRewriteWriter.CloseWithError(err)
	}()

	err := streaming.Passthrough(ctx, dst, stopRewriteReader, "", model, func(obsCtx context.Context, obsModel string, usage credential.UsageBreakdown) {
		o.accumulateUsage(obsCtx, cred, credential.FamilyOf(obsModel), usage, time.Now())
	})

	if rewriteErr := <-errCh; rewriteErr != nil && err == nil {
		err = rewriteErr
	}
	return err
}

// stopSequencesFrom extracts the request body's `stop_sequences` array,
// if present, so the stop-sequence rewriter matches exactly what the
// caller configured for this request.
func stopSequencesFrom(body []byte) []string {
	result := gjson.GetBytes(body, "stop_sequences")
	if !result.Exists() || !result.IsArray() {
		return nil
	}
	var sequences []string
	result.ForEach(func(_, v gjson.Result) bool {
		if s := v.String(); s != "" {
			sequences = append(sequences, s)
		}
		return true
	})
	return sequences
}

// ensureAuth refreshes an expired paired OAuth token before dispatch, per
// spec.md §4.4. A cookie with no token at all is reported as InvalidAuth
// (see the Dispatch loop's non-retryable propagation above).
func (o *Orchestrator) ensureAuth(ctx context.Context, cookie *credential.WebCookie) error {
	switch cookie.Token.Classify(time.Now()) {
	case credential.TokenNone:
		return &credential.Error{Kind: credential.InvalidAuth, Message: "cookie has no paired oauth token"}
	case credential.TokenExpired:
		if err := o.Refresher.RefreshWebCookieToken(ctx, cookie.Token, o.Cfg.TokenEndpoint, o.Cfg.ClientID, o.Cfg.ClientSecret); err != nil {
			return err
		}
		o.Pool.Update(ctx, cookie)
		return nil
	default:
		return nil
	}
}

type classifiedError struct {
	err         *credential.Error
	retryable   bool
	resetAtUnix int64
}

// classifyUpstreamError maps a non-2xx response to the retry decision in
// spec.md §4.6: 429 and 5xx retry with a fresh lease, everything else
// propagates immediately.
func classifyUpstreamError(status int, body []byte, header http.Header) classifiedError {
	e := &credential.Error{Kind: credential.UpstreamHTTP, Status: status, Body: string(body)}
	switch {
	case status == http.StatusTooManyRequests:
		return classifiedError{err: e, retryable: true, resetAtUnix: parseRetryAfter(header)}
	case status == http.StatusForbidden:
		return classifiedError{err: e, retryable: true}
	case status >= 500:
		return classifiedError{err: e, retryable: true}
	default:
		return classifiedError{err: e, retryable: false}
	}
}

// parseRetryAfter reads a Retry-After header (seconds form) into a unix
// timestamp; a missing or unparseable header resolves to 0, which
// credential.Error.ToReason treats as "no reset boundary known".
func parseRetryAfter(header http.Header) int64 {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return time.Now().Add(time.Duration(seconds) * time.Second).Unix()
}

// accumulateUsage applies spec.md §4.7's rolling-bucket update to both
// the session and weekly windows (and the weekly per-family sub-bucket).
func (o *Orchestrator) accumulateUsage(ctx context.Context, cred *credential.WebCookie, family credential.Family, usage credential.UsageBreakdown, now time.Time) {
	o.rollWindow(ctx, &cred.Usage.Session, sessionWindow, now)
	o.rollWindow(ctx, &cred.Usage.Weekly, weeklyWindow, now)
	cred.Usage.Session.Breakdown.Add(usage.InputTokens, usage.OutputTokens)
	cred.Usage.Weekly.Breakdown.Add(usage.InputTokens, usage.OutputTokens)
	cred.Usage.AddFamily(family, usage.InputTokens, usage.OutputTokens)
	o.Pool.Update(ctx, cred)
}

// rollWindow implements step 1 of spec.md §4.7: if the window's boundary
// has passed, query the upstream for the refreshed boundary, falling back
// to `now + window` (zeroed) when the fetcher is absent or errors.
func (o *Orchestrator) rollWindow(ctx context.Context, w *credential.Window, window time.Duration, now time.Time) {
	if w.ResetsAt != nil && !w.NeedsReset(now) {
		return // still inside the current window
	}
	// Either never initialized (ResetsAt == nil) or the boundary passed.
	if o.UsageBoundary == nil {
		fallback := now.Add(window)
		w.Reset(&fallback)
		return
	}
	boundary, err := o.UsageBoundary(ctx)
	if err != nil {
		fallback := now.Add(window)
		w.Reset(&fallback)
		return
	}
	w.Reset(boundary) // boundary == nil is valid: Reset sets has_reset=false
}
