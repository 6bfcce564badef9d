// Package hooks implements the interceptor chain (C10): a compile-time
// cons-list carrying one interceptor per nesting level, composed
// left-to-right around tool calls and turn completion. It plays the same
// structural role as internal/hooks' Registry — giving outside code a
// place to observe and steer agent behavior — but the shape is different
// on purpose: a priority-sorted event bus can't express "outer sees the
// inner decision and may veto it," which is exactly what pre_tool_use and
// post_tool_use need.
package hooks

import "context"

// Decision is a pre_tool_use verdict.
type Decision int

const (
	Allow Decision = iota
	Deny
	PreAbort
)

// PreToolUseContext is what a pre_tool_use interceptor sees before a tool
// call is dispatched.
type PreToolUseContext struct {
	Ctx       context.Context
	SessionID string
	ToolName  string
	Input     []byte
}

// PreToolUseResult is a pre_tool_use verdict. Deny surfaces Reason as the
// tool's own error output; PreAbort ends the run.
type PreToolUseResult struct {
	Decision Decision
	Reason   string
}

func AllowResult() PreToolUseResult                 { return PreToolUseResult{Decision: Allow} }
func DenyResult(reason string) PreToolUseResult     { return PreToolUseResult{Decision: Deny, Reason: reason} }
func AbortPreResult(reason string) PreToolUseResult { return PreToolUseResult{Decision: PreAbort, Reason: reason} }

// PostDecision is a post_tool_use verdict.
type PostDecision int

const (
	Keep PostDecision = iota
	Replace
	PostAbort
)

// PostToolUseContext is what a post_tool_use interceptor sees after a tool
// call has run.
type PostToolUseContext struct {
	Ctx       context.Context
	SessionID string
	ToolName  string
	Input     []byte
	Result    string
	IsError   bool
}

// PostToolUseResult is a post_tool_use verdict. Replace substitutes the
// tool output the model ends up seeing.
type PostToolUseResult struct {
	Decision    PostDecision
	Replacement string
	Reason      string
}

func KeepResult() PostToolUseResult             { return PostToolUseResult{Decision: Keep} }
func ReplaceResult(s string) PostToolUseResult  { return PostToolUseResult{Decision: Replace, Replacement: s} }
func AbortPostResult(reason string) PostToolUseResult {
	return PostToolUseResult{Decision: PostAbort, Reason: reason}
}

// StopContext is what on_stop sees when a turn is about to complete.
type StopContext struct {
	Ctx       context.Context
	SessionID string
	FinalText string
	Turns     int
}

// Interceptor is one level of the chain. Each method receives the
// decision made by everything nested inside it (innermost first) and
// returns its own verdict, which may simply pass the inner one through.
// OnText is observation-only and has no verdict to compose.
type Interceptor interface {
	PreToolUse(pctx PreToolUseContext, inner PreToolUseResult) PreToolUseResult
	PostToolUse(pctx PostToolUseContext, inner PostToolUseResult) PostToolUseResult
	OnText(fragment string)
	// OnStop returns a non-empty reason to abort the run. innerReason/
	// innerAbort carry whatever the inner chain already decided.
	OnStop(sctx StopContext, innerReason string, innerAbort bool) (reason string, abort bool)
}

// Base supplies permissive pass-through defaults so a concrete
// interceptor only needs to implement the method(s) it cares about.
type Base struct{}

func (Base) PreToolUse(_ PreToolUseContext, inner PreToolUseResult) PreToolUseResult { return inner }
func (Base) PostToolUse(_ PostToolUseContext, inner PostToolUseResult) PostToolUseResult {
	return inner
}
func (Base) OnText(string) {}
func (Base) OnStop(_ StopContext, innerReason string, innerAbort bool) (string, bool) {
	return innerReason, innerAbort
}

// Chain is the cons-list itself: head is this level's interceptor, tail is
// everything nested inside it. A nil *Chain is a no-op identity element
// (Allow/Keep/no abort), so composing with an empty chain is always safe.
type Chain struct {
	head Interceptor
	tail *Chain
}

// Cons prepends head in front of tail, making head the new outermost
// level. The zero chain (Cons(h, nil)) is a single-level chain.
func Cons(head Interceptor, tail *Chain) *Chain {
	return &Chain{head: head, tail: tail}
}

// PreToolUse evaluates the chain inside-out: the innermost interceptor
// runs first, and each level out sees what's nested inside it. A PreAbort
// at any level short-circuits the remaining (outer) levels.
func (c *Chain) PreToolUse(pctx PreToolUseContext) PreToolUseResult {
	return c.preToolUse(pctx, AllowResult())
}

func (c *Chain) preToolUse(pctx PreToolUseContext, innermost PreToolUseResult) PreToolUseResult {
	if c == nil {
		return innermost
	}
	inner := c.tail.preToolUse(pctx, innermost)
	if inner.Decision == PreAbort {
		return inner
	}
	if c.head == nil {
		return inner
	}
	return c.head.PreToolUse(pctx, inner)
}

// PostToolUse composes the same way as PreToolUse.
func (c *Chain) PostToolUse(pctx PostToolUseContext) PostToolUseResult {
	return c.postToolUse(pctx, KeepResult())
}

func (c *Chain) postToolUse(pctx PostToolUseContext, innermost PostToolUseResult) PostToolUseResult {
	if c == nil {
		return innermost
	}
	inner := c.tail.postToolUse(pctx, innermost)
	if inner.Decision == PostAbort {
		return inner
	}
	if c.head == nil {
		return inner
	}
	return c.head.PostToolUse(pctx, inner)
}

// OnText notifies every level, innermost first. Observation only: no
// verdict is composed and no level can suppress another's notification.
func (c *Chain) OnText(fragment string) {
	if c == nil {
		return
	}
	c.tail.OnText(fragment)
	if c.head != nil {
		c.head.OnText(fragment)
	}
}

// OnStop composes like PreToolUse/PostToolUse: the first non-empty reason
// (innermost wins ties, since inner runs first) ends the run.
func (c *Chain) OnStop(sctx StopContext) (reason string, abort bool) {
	return c.onStop(sctx, "", false)
}

func (c *Chain) onStop(sctx StopContext, innermostReason string, innermostAbort bool) (string, bool) {
	if c == nil {
		return innermostReason, innermostAbort
	}
	reason, abort := c.tail.onStop(sctx, innermostReason, innermostAbort)
	if abort {
		return reason, abort
	}
	if c.head == nil {
		return reason, abort
	}
	return c.head.OnStop(sctx, reason, abort)
}
