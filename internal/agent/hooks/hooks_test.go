package hooks

import (
	"context"
	"testing"
)

type recordingInterceptor struct {
	Base
	name  string
	log   *[]string
	deny  bool
	abort bool
}

func (r recordingInterceptor) PreToolUse(pctx PreToolUseContext, inner PreToolUseResult) PreToolUseResult {
	*r.log = append(*r.log, r.name)
	if r.abort {
		return AbortPreResult(r.name + " aborted")
	}
	if r.deny {
		return DenyResult(r.name + " denied")
	}
	return inner
}

func TestChainNilIsAllowAndKeep(t *testing.T) {
	var c *Chain
	result := c.PreToolUse(PreToolUseContext{ToolName: "bash"})
	if result.Decision != Allow {
		t.Fatalf("nil chain PreToolUse = %v, want Allow", result.Decision)
	}
	post := c.PostToolUse(PostToolUseContext{ToolName: "bash"})
	if post.Decision != Keep {
		t.Fatalf("nil chain PostToolUse = %v, want Keep", post.Decision)
	}
	reason, abort := c.OnStop(StopContext{})
	if abort || reason != "" {
		t.Fatalf("nil chain OnStop = (%q, %v), want (\"\", false)", reason, abort)
	}
}

func TestChainInnerRunsBeforeOuter(t *testing.T) {
	var log []string
	inner := recordingInterceptor{name: "inner", log: &log}
	outer := recordingInterceptor{name: "outer", log: &log}

	chain := Cons(outer, Cons(inner, nil))
	chain.PreToolUse(PreToolUseContext{ToolName: "bash"})

	if len(log) != 2 || log[0] != "inner" || log[1] != "outer" {
		t.Fatalf("call order = %v, want [inner outer]", log)
	}
}

func TestChainDenyFromInnerSurvivesToOuterPassthrough(t *testing.T) {
	var log []string
	inner := recordingInterceptor{name: "inner", log: &log, deny: true}
	outer := recordingInterceptor{name: "outer", log: &log} // passes inner through

	chain := Cons(outer, Cons(inner, nil))
	result := chain.PreToolUse(PreToolUseContext{ToolName: "bash"})

	if result.Decision != Deny {
		t.Fatalf("Decision = %v, want Deny", result.Decision)
	}
	if result.Reason != "inner denied" {
		t.Fatalf("Reason = %q, want %q", result.Reason, "inner denied")
	}
}

func TestChainOuterCanOverrideInnerDecision(t *testing.T) {
	var log []string
	inner := recordingInterceptor{name: "inner", log: &log, deny: true}

	// An outer interceptor that always Allows regardless of inner.
	chain := Cons(alwaysAllow{}, Cons(inner, nil))
	result := chain.PreToolUse(PreToolUseContext{ToolName: "bash"})
	if result.Decision != Allow {
		t.Fatalf("outer override failed: Decision = %v, want Allow", result.Decision)
	}
}

type alwaysAllow struct{ Base }

func (alwaysAllow) PreToolUse(PreToolUseContext, PreToolUseResult) PreToolUseResult {
	return AllowResult()
}

func TestChainPreAbortShortCircuitsOuterLevels(t *testing.T) {
	var log []string
	inner := recordingInterceptor{name: "inner", log: &log, abort: true}
	outer := recordingInterceptor{name: "outer", log: &log}

	chain := Cons(outer, Cons(inner, nil))
	result := chain.PreToolUse(PreToolUseContext{ToolName: "bash"})

	if result.Decision != PreAbort {
		t.Fatalf("Decision = %v, want PreAbort", result.Decision)
	}
	if len(log) != 1 || log[0] != "inner" {
		t.Fatalf("outer should not run after inner abort, log = %v", log)
	}
}

type replacingInterceptor struct {
	Base
	text string
}

func (r replacingInterceptor) PostToolUse(_ PostToolUseContext, _ PostToolUseResult) PostToolUseResult {
	return ReplaceResult(r.text)
}

func TestChainPostToolUseReplace(t *testing.T) {
	chain := Cons(replacingInterceptor{text: "redacted"}, nil)
	result := chain.PostToolUse(PostToolUseContext{ToolName: "bash", Result: "secret"})
	if result.Decision != Replace || result.Replacement != "redacted" {
		t.Fatalf("result = %+v, want Replace(redacted)", result)
	}
}

type textObserver struct {
	Base
	seen *[]string
}

func (o textObserver) OnText(fragment string) {
	*o.seen = append(*o.seen, fragment)
}

func TestChainOnTextNotifiesAllLevels(t *testing.T) {
	var seenA, seenB []string
	chain := Cons(textObserver{seen: &seenB}, Cons(textObserver{seen: &seenA}, nil))
	chain.OnText("hello")

	if len(seenA) != 1 || seenA[0] != "hello" {
		t.Fatalf("inner observer seen = %v", seenA)
	}
	if len(seenB) != 1 || seenB[0] != "hello" {
		t.Fatalf("outer observer seen = %v", seenB)
	}
}

type stoppingInterceptor struct {
	Base
	reason string
}

func (s stoppingInterceptor) OnStop(_ StopContext, innerReason string, innerAbort bool) (string, bool) {
	if innerAbort {
		return innerReason, innerAbort
	}
	return s.reason, s.reason != ""
}

func TestChainOnStopAbort(t *testing.T) {
	chain := Cons(stoppingInterceptor{}, Cons(stoppingInterceptor{reason: "policy violation"}, nil))
	reason, abort := chain.OnStop(StopContext{Ctx: context.Background(), FinalText: "done", Turns: 3})
	if !abort || reason != "policy violation" {
		t.Fatalf("OnStop = (%q, %v), want (\"policy violation\", true)", reason, abort)
	}
}
