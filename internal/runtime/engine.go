package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/providers"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
)

const (
	defaultMaxTurns   = 30
	defaultMaxTokens  = 8192
	defaultSpawnDepth = 3
	mcpPrefix         = "mcp__"
)

// MCPToolSource extends the router with discovery so the engine can
// advertise remote tools to the model. Implemented by the MCP manager.
type MCPToolSource interface {
	MCPRouter
	Schemas() []providers.ToolSchema
}

// EngineConfig assembles the in-process runtime.
type EngineConfig struct {
	Provider      providers.Provider
	Tools         *tools.Registry
	MCP           MCPToolSource // optional
	MaxTokens     int           // per model call, default 8192
	MaxSpawnDepth int           // Task nesting limit, default 3
}

// Engine drives the streaming provider and the tool registry, translating
// each round into the envelope protocol. One Engine serves the whole
// process; every Open starts an isolated turn.
type Engine struct {
	provider  providers.Provider
	tools     *tools.Registry
	mcp       MCPToolSource
	maxTokens int
	maxDepth  int
}

var _ Transport = (*Engine)(nil)

func NewEngine(cfg EngineConfig) *Engine {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	maxDepth := cfg.MaxSpawnDepth
	if maxDepth <= 0 {
		maxDepth = defaultSpawnDepth
	}
	return &Engine{
		provider:  cfg.Provider,
		tools:     cfg.Tools,
		mcp:       cfg.MCP,
		maxTokens: maxTokens,
		maxDepth:  maxDepth,
	}
}

// Open starts a turn. The returned source's channel closes after the
// result envelope (or after cancellation).
func (e *Engine) Open(ctx context.Context, prompt string, opts Options) (Source, error) {
	if e.provider == nil {
		return nil, errors.New("engine: no provider configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	src := &engineSource{ch: make(chan Message, 16), cancel: cancel}
	go e.run(runCtx, prompt, opts, src)
	return src, nil
}

type engineSource struct {
	ch     chan Message
	cancel context.CancelFunc
}

func (s *engineSource) Messages() <-chan Message { return s.ch }

// Close aborts the turn; the run goroutine notices the cancel and closes
// the channel.
func (s *engineSource) Close() error {
	s.cancel()
	return nil
}

// turnState aggregates usage across the turn, including sub-agent runs
// which may execute concurrently with sibling tools.
type turnState struct {
	mu    sync.Mutex
	usage Usage
	apiMS int64
}

func (st *turnState) add(u providers.Usage, apiDur time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.usage.InputTokens += u.InputTokens
	st.usage.OutputTokens += u.OutputTokens
	st.usage.CacheReadInputTokens += u.CacheReadTokens
	st.usage.CacheCreationInputTokens += u.CacheCreationTokens
	st.apiMS += apiDur.Milliseconds()
}

func (st *turnState) snapshot() (Usage, int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.usage, st.apiMS
}

// runner executes one conversation loop. Sub-agent runners share the
// envelope channel and turn state but hold their own message history.
type runner struct {
	engine *Engine
	opts   Options
	state  *turnState
	ch     chan Message
	ctx    context.Context
	depth  int
}

func (e *Engine) run(ctx context.Context, prompt string, opts Options, src *engineSource) {
	defer close(src.ch)
	start := time.Now()

	st := &turnState{}
	r := &runner{engine: e, opts: opts, state: st, ch: src.ch, ctx: ctx}

	r.emit(Message{Type: TypeSystem, Subtype: SubtypeInit})

	text, turns, exhausted, err := r.loop(ctx, prompt)

	usage, apiMS := st.snapshot()
	res := Message{
		Type:          TypeResult,
		Subtype:       SubtypeSuccess,
		Result:        text,
		Usage:         &usage,
		TotalCostUSD:  costUSD(e.modelFor(opts), usage),
		DurationMS:    time.Since(start).Milliseconds(),
		DurationAPIMS: apiMS,
		NumTurns:      turns,
	}
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil):
		// Client gone; nobody is reading. The coordinator finalizes.
		return
	case err != nil:
		res.Subtype = "error_during_execution"
		res.IsError = true
		res.Result = err.Error()
	case exhausted:
		res.Subtype = "error_max_turns"
	}
	r.emit(res)
}

func (r *runner) emit(msg Message) bool {
	select {
	case r.ch <- msg:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// loop is the think-act cycle: stream a model response, screen and execute
// its tool calls, feed results back, until the model stops asking for
// tools or the turn budget runs out.
func (r *runner) loop(ctx context.Context, prompt string) (finalText string, turns int, exhausted bool, err error) {
	maxTurns := r.opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	req := providers.ChatRequest{
		Model:     r.opts.Model,
		System:    r.opts.SystemPrompt,
		Tools:     r.engine.schemas(r.opts),
		MaxTokens: r.engine.maxTokens,
	}
	if r.opts.MaxThinkingTokens > 0 {
		req.Thinking = &providers.ThinkingOption{BudgetTokens: r.opts.MaxThinkingTokens}
	}

	msgs := []providers.Message{providers.UserText(prompt)}
	lastText := ""

	for turns < maxTurns {
		turns++
		req.Messages = msgs

		apiStart := time.Now()
		resp, cerr := r.engine.provider.ChatStream(ctx, req, nil)
		if cerr != nil {
			return "", turns, false, fmt.Errorf("model stream (round %d): %w", turns, cerr)
		}
		r.state.add(resp.Usage, time.Since(apiStart))
		lastText = resp.Text()

		uses := resp.ToolUses()

		// Screening runs before the assistant envelope goes out so hook
		// observations are queued by the time the translator reaches the
		// tool_use blocks.
		verdicts := r.screen(uses)

		if !r.emit(Message{Type: TypeAssistant, Content: toEnvelopeBlocks(resp.Blocks)}) {
			return "", turns, false, ctx.Err()
		}

		if len(uses) == 0 {
			return lastText, turns, false, nil
		}

		outcomes := r.execute(ctx, uses, verdicts)

		// Every outcome returns to the model; only executed tools surface
		// as envelope blocks. A blocked tool never announced a start, so it
		// must not announce a result either.
		var surface []Block
		passback := make([]providers.ContentBlock, 0, len(outcomes))
		for _, out := range outcomes {
			passback = append(passback, providers.ContentBlock{
				Type:      providers.BlockToolResult,
				ToolUseID: out.id,
				Content:   out.content,
				IsError:   out.isError,
			})
			if !out.blocked {
				surface = append(surface, Block{
					Type:      "tool_result",
					ToolUseID: out.id,
					Content:   out.content,
					IsError:   out.isError,
				})
			}
		}
		if len(surface) > 0 {
			if !r.emit(Message{Type: TypeUser, Content: surface}) {
				return "", turns, false, ctx.Err()
			}
		}

		msgs = append(msgs, providers.Message{Role: providers.RoleAssistant, Content: resp.Blocks})
		msgs = append(msgs, providers.Message{Role: providers.RoleUser, Content: passback})
	}

	return lastText, turns, true, nil
}

type verdict struct {
	blocked bool
	reason  string
}

// screen runs the double enforcement for each requested tool: the pre-tool
// hook chain first (it owns tracing, queueing and the rate budget), then
// the permission callback. Either surface can block; neither weakens the
// other.
func (r *runner) screen(uses []providers.ContentBlock) map[string]verdict {
	out := make(map[string]verdict, len(uses))
	for _, tu := range uses {
		out[tu.ID] = r.screenOne(tu)
	}
	return out
}

func (r *runner) screenOne(tu providers.ContentBlock) verdict {
	for _, hook := range r.opts.Hooks.PreToolUse {
		o := hook(tu.Name, tu.ID, tu.Input)
		if o.Decision == DecisionBlock {
			reason := o.Reason
			if reason == "" {
				reason = "blocked by policy"
			}
			return verdict{blocked: true, reason: reason}
		}
	}
	if r.opts.CanUseTool != nil {
		res := r.opts.CanUseTool(tu.Name, tu.Input)
		if !res.Allowed {
			msg := res.Message
			if msg == "" {
				msg = "permission denied"
			}
			return verdict{blocked: true, reason: msg}
		}
	}
	return verdict{}
}

type toolOutcome struct {
	id      string
	name    string
	content string
	isError bool
	blocked bool
}

// execute runs the allowed tools — in parallel when the model asked for
// several — and fires the post-tool hooks in block order once everything
// has finished.
func (r *runner) execute(ctx context.Context, uses []providers.ContentBlock, verdicts map[string]verdict) []toolOutcome {
	outcomes := make([]toolOutcome, len(uses))

	var runnable []int
	for i, tu := range uses {
		if v := verdicts[tu.ID]; v.blocked {
			outcomes[i] = toolOutcome{id: tu.ID, name: tu.Name, content: v.reason, isError: true, blocked: true}
			continue
		}
		runnable = append(runnable, i)
	}

	switch len(runnable) {
	case 0:
	case 1:
		i := runnable[0]
		outcomes[i] = r.runTool(ctx, uses[i])
	default:
		type indexed struct {
			idx int
			out toolOutcome
		}
		resultCh := make(chan indexed, len(runnable))
		var wg sync.WaitGroup
		for _, i := range runnable {
			wg.Add(1)
			go func(i int, tu providers.ContentBlock) {
				defer wg.Done()
				resultCh <- indexed{idx: i, out: r.runTool(ctx, tu)}
			}(i, uses[i])
		}
		go func() { wg.Wait(); close(resultCh) }()
		for res := range resultCh {
			outcomes[res.idx] = res.out
		}
	}

	for _, i := range runnable {
		out := outcomes[i]
		for _, hook := range r.opts.Hooks.PostToolUse {
			hook(out.name, out.id, out.content, out.isError)
		}
	}
	return outcomes
}

func (r *runner) runTool(ctx context.Context, tu providers.ContentBlock) toolOutcome {
	tctx := withRunner(ctx, r)
	slog.Debug("tool call", "tool", tu.Name, "depth", r.depth)

	if strings.HasPrefix(tu.Name, mcpPrefix) {
		if r.engine.mcp == nil {
			return toolOutcome{id: tu.ID, name: tu.Name, content: "mcp tools are not available", isError: true}
		}
		out, err := r.engine.mcp.CallTool(tctx, tu.Name, tu.Input)
		if err != nil {
			return toolOutcome{id: tu.ID, name: tu.Name, content: err.Error(), isError: true}
		}
		return toolOutcome{id: tu.ID, name: tu.Name, content: out}
	}

	res := r.engine.tools.Execute(tctx, tu.Name, tu.Input)
	if res.Err != nil {
		slog.Debug("tool failed", "tool", tu.Name, "error", res.Err)
	}
	return toolOutcome{id: tu.ID, name: tu.Name, content: res.ForLLM, isError: res.IsError}
}

// schemas assembles the tool declarations for a turn: registry tools
// filtered by the allow/deny lists plus the discovered MCP tools.
func (e *Engine) schemas(opts Options) []providers.ToolSchema {
	var out []providers.ToolSchema
	if e.tools != nil {
		for _, s := range e.tools.Schemas() {
			if opts.Allowed(s.Name) {
				out = append(out, s)
			}
		}
	}
	if e.mcp != nil {
		for _, s := range e.mcp.Schemas() {
			if opts.Allowed(s.Name) {
				out = append(out, s)
			}
		}
	}
	return out
}

func (e *Engine) modelFor(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return e.provider.DefaultModel()
}

type runnerKey struct{}

func withRunner(ctx context.Context, r *runner) context.Context {
	return context.WithValue(ctx, runnerKey{}, r)
}

// Spawn runs a nested agent turn for the Task tool and returns its final
// text. The sub-turn shares the envelope stream — its frames appear while
// the parent's Task invocation is open — and the parent's usage totals,
// but holds its own conversation. Wire it into the registry's Task tool at
// assembly time.
func (e *Engine) Spawn(ctx context.Context, prompt string) (string, error) {
	r, _ := ctx.Value(runnerKey{}).(*runner)
	if r == nil {
		return "", errors.New("task: no active turn")
	}
	if r.depth+1 > e.maxDepth {
		return "", fmt.Errorf("task: sub-agent depth limit (%d) reached", e.maxDepth)
	}

	sub := &runner{
		engine: e,
		opts:   r.opts,
		state:  r.state,
		ch:     r.ch,
		ctx:    r.ctx,
		depth:  r.depth + 1,
	}
	text, _, _, err := sub.loop(ctx, prompt)
	if err != nil {
		return "", err
	}
	return text, nil
}

func toEnvelopeBlocks(blocks []providers.ContentBlock) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case providers.BlockText:
			out = append(out, Block{Type: "text", Text: b.Text})
		case providers.BlockThinking:
			out = append(out, Block{Type: "thinking", Thinking: b.Thinking})
		case providers.BlockToolUse:
			out = append(out, Block{Type: "tool_use", ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return out
}
