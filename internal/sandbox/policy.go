// Package sandbox implements the tool-invocation policy the gateway enforces
// before the agent runtime executes anything: path containment for writes,
// a sensitive-file blacklist for reads, command screening for shell, and
// rolling per-minute rate limits. Checks are pure — no filesystem I/O, no
// symlink resolution; `..` is resolved lexically only.
package sandbox

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

// Stable deny reason codes. These surface verbatim in hook frames and trace
// events, so UIs and tests match on them.
const (
	ReasonRateLimit           = "rate_limit_exceeded"
	ReasonPathBlacklist       = "path_blacklist"
	ReasonPathNotInWhitelist  = "path_not_in_whitelist"
	ReasonExtensionNotAllowed = "extension_not_allowed"
	ReasonSensitiveContent    = "sensitive_content"
	ReasonPathTraversal       = "path_traversal"
	ReasonDangerousCommand    = "dangerous_command"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Reason  string // stable code, empty when allowed
	Detail  string // human-readable context
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason, detail string) Decision {
	return Decision{Allowed: false, Reason: reason, Detail: detail}
}

// Sensitive basenames denied to the read family. ".env" matches exactly or
// as a ".env.*" prefix; the rest match as substrings of the basename.
var sensitiveBasenames = []string{"credentials", "secrets", "password", "token"}

// Absolute-path extraction for shell commands. Three platform shapes; the
// Unix pattern uses a leading capture group because RE2 has no lookbehind.
var (
	windowsPathRe = regexp.MustCompile(`[A-Za-z]:[\\/][^\s"']+`)
	gitBashPathRe = regexp.MustCompile(`/[a-z]/[^\s"']+`)
	unixPathRe    = regexp.MustCompile(`(?:^|[^a-zA-Z0-9_])(/[a-zA-Z][^\s"']*)`)
)

// Pseudo-filesystem prefixes exempt from containment (device plumbing like
// `> /dev/null` is not a sandbox escape).
var exemptPathPrefixes = []string{"/dev/", "/proc/", "/sys/"}

var (
	readTools  = map[string]bool{"Read": true, "Glob": true, "Grep": true}
	writeTools = map[string]bool{"Write": true, "Edit": true}
)

// Policy is an immutable compiled rule set plus its rolling rate windows.
// Safe for concurrent use across turns.
type Policy struct {
	roots        []string // cleaned, order preserved, primary first
	blockedGlobs []string
	allowedExts  map[string]bool
	blockedExts  map[string]bool
	dangerousRe  []*regexp.Regexp
	sensitiveRe  []*regexp.Regexp

	ops    *rollingWindow
	writes *rollingWindow
	shell  *rollingWindow

	now func() time.Time
}

// New compiles a policy from config. Regex compilation failures are
// configuration errors and reported eagerly.
func New(cfg config.SandboxConfig, roots []string) (*Policy, error) {
	p := &Policy{
		blockedGlobs: cfg.BlockedPathGlobs,
		allowedExts:  extSet(cfg.AllowedExtensions),
		blockedExts:  extSet(cfg.BlockedExtensions),
		now:          time.Now,
	}

	for _, r := range roots {
		if r == "" {
			continue
		}
		p.roots = append(p.roots, filepath.Clean(r))
	}

	for _, expr := range cfg.DangerousCommandRegexes {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("dangerous command regex %q: %w", expr, err)
		}
		p.dangerousRe = append(p.dangerousRe, re)
	}
	for _, expr := range cfg.SensitiveContentRegexes {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("sensitive content regex %q: %w", expr, err)
		}
		p.sensitiveRe = append(p.sensitiveRe, re)
	}

	p.ops = newRollingWindow(cfg.MaxOpsPerMin, p.clock)
	p.writes = newRollingWindow(cfg.MaxWritesPerMin, p.clock)
	p.shell = newRollingWindow(cfg.MaxShellPerMin, p.clock)

	return p, nil
}

// SetClock injects a clock for tests. Not safe to call once checks run.
func (p *Policy) SetClock(now func() time.Time) { p.now = now }

func (p *Policy) clock() time.Time { return p.now() }

// Root returns the primary sandbox root ("" when unconfigured).
func (p *Policy) Root() string {
	if len(p.roots) == 0 {
		return ""
	}
	return p.roots[0]
}

// Check evaluates a tool invocation against the policy. First failure wins;
// rule order follows the enforcement contract: rate limits, read blacklist,
// write containment, shell screening, then default allow. Each Check charges
// the rate windows once.
func (p *Policy) Check(toolName string, input map[string]any) Decision {
	if d := p.checkRate(toolName); !d.Allowed {
		return d
	}
	return p.checkRules(toolName, input)
}

// Peek evaluates like Check but consumes no rate-limit budget. The
// permission callback uses it so that double enforcement (callback plus
// pre-tool hook) charges each tool call exactly once.
func (p *Policy) Peek(toolName string, input map[string]any) Decision {
	if d := p.peekRate(toolName); !d.Allowed {
		return d
	}
	return p.checkRules(toolName, input)
}

func (p *Policy) checkRules(toolName string, input map[string]any) Decision {
	switch {
	case readTools[toolName]:
		return p.checkRead(input)
	case writeTools[toolName]:
		return p.checkWrite(toolName, input)
	case toolName == "Bash":
		return p.checkShell(input)
	}

	// Task and everything else (search, fetch, MCP, skills): allowed.
	// Sub-agent tool uses are checked individually as they occur.
	return allow()
}

func (p *Policy) checkRate(toolName string) Decision {
	if !p.ops.Allow() {
		return deny(ReasonRateLimit, "operation rate limit reached")
	}
	if writeTools[toolName] && !p.writes.Allow() {
		return deny(ReasonRateLimit, "write rate limit reached")
	}
	if toolName == "Bash" && !p.shell.Allow() {
		return deny(ReasonRateLimit, "shell rate limit reached")
	}
	return allow()
}

func (p *Policy) peekRate(toolName string) Decision {
	if p.ops.Full() {
		return deny(ReasonRateLimit, "operation rate limit reached")
	}
	if writeTools[toolName] && p.writes.Full() {
		return deny(ReasonRateLimit, "write rate limit reached")
	}
	if toolName == "Bash" && p.shell.Full() {
		return deny(ReasonRateLimit, "shell rate limit reached")
	}
	return allow()
}

// checkRead denies reads and searches that reference sensitive files.
func (p *Policy) checkRead(input map[string]any) Decision {
	if path := strInput(input, "file_path", "path"); path != "" {
		base := strings.ToLower(filepath.Base(filepath.ToSlash(path)))
		if hit := sensitiveBasenameHit(base); hit != "" {
			return deny(ReasonPathBlacklist, fmt.Sprintf("%s is a sensitive file (blacklist: %s)", base, hit))
		}
	}
	if pattern := strInput(input, "pattern"); pattern != "" {
		// Patterns are matchers, not names: any pattern mentioning .env could
		// expand to a dotenv file, so the substring check is broader here
		// than for basenames.
		lower := strings.ToLower(pattern)
		if strings.Contains(lower, ".env") {
			return deny(ReasonPathBlacklist, fmt.Sprintf("pattern %q may match sensitive files", pattern))
		}
		for _, s := range sensitiveBasenames {
			if strings.Contains(lower, s) {
				return deny(ReasonPathBlacklist, fmt.Sprintf("pattern %q may match sensitive files (blacklist: %s)", pattern, s))
			}
		}
	}
	return allow()
}

func (p *Policy) checkWrite(toolName string, input map[string]any) Decision {
	path := strInput(input, "file_path", "path")
	if path == "" {
		return deny(ReasonPathNotInWhitelist, "empty file path")
	}

	abs := p.normalize(path)
	if !p.contained(abs) {
		return deny(ReasonPathNotInWhitelist, fmt.Sprintf("%s is outside the allowed write roots", path))
	}

	if reason := p.globHit(abs); reason != "" {
		return deny(ReasonPathBlacklist, fmt.Sprintf("%s matches blocked pattern %s", path, reason))
	}

	ext := strings.ToLower(filepath.Ext(abs))
	if ext != "" {
		if len(p.allowedExts) > 0 && !p.allowedExts[ext] {
			return deny(ReasonExtensionNotAllowed, fmt.Sprintf("extension %s is not in the allowed set", ext))
		}
		if p.blockedExts[ext] {
			return deny(ReasonExtensionNotAllowed, fmt.Sprintf("extension %s is blocked", ext))
		}
	}

	if toolName == "Write" {
		if content := strInput(input, "content"); content != "" {
			for _, re := range p.sensitiveRe {
				if re.MatchString(content) {
					return deny(ReasonSensitiveContent, "write payload matches a sensitive-content pattern")
				}
			}
		}
	}

	return allow()
}

func (p *Policy) checkShell(input map[string]any) Decision {
	command := strInput(input, "command")
	if command == "" {
		return allow()
	}

	if strings.Contains(command, "../") || strings.Contains(command, `..\`) {
		return deny(ReasonPathTraversal, "path traversal (../) is not permitted in commands")
	}

	for _, re := range p.dangerousRe {
		if re.MatchString(command) {
			return deny(ReasonDangerousCommand, fmt.Sprintf("command matches blocked pattern %s", re.String()))
		}
	}

	for _, path := range extractCommandPaths(command) {
		if !p.contained(p.normalize(path)) {
			return deny(ReasonPathNotInWhitelist, fmt.Sprintf("command references %s outside the allowed roots", path))
		}
	}

	return allow()
}

// normalize resolves a possibly-relative path lexically against the primary
// root. No filesystem access.
func (p *Policy) normalize(path string) string {
	path = filepath.ToSlash(path)
	// Git-bash drive form: /c/Users/... → c:/Users/...
	if gitBashPathRe.MatchString(path) && len(path) > 2 && path[0] == '/' && path[2] == '/' {
		path = path[1:2] + ":" + path[2:]
	}
	if !filepath.IsAbs(path) && !windowsPathRe.MatchString(path) {
		path = filepath.Join(p.Root(), path)
	}
	return filepath.Clean(path)
}

func (p *Policy) contained(abs string) bool {
	slashed := filepath.ToSlash(abs)
	for _, root := range p.roots {
		r := filepath.ToSlash(root)
		if slashed == r || strings.HasPrefix(slashed, r+"/") {
			return true
		}
	}
	return false
}

// globHit matches blocked globs against the basename and the path relative
// to each root. Returns the matching pattern or "".
func (p *Policy) globHit(abs string) string {
	base := filepath.Base(abs)
	for _, pattern := range p.blockedGlobs {
		if ok, _ := filepath.Match(pattern, base); ok {
			return pattern
		}
		for _, root := range p.roots {
			if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
				if ok, _ := filepath.Match(pattern, rel); ok {
					return pattern
				}
			}
		}
	}
	return ""
}

// extractCommandPaths pulls absolute-looking paths out of a shell command,
// skipping pseudo-filesystem references.
func extractCommandPaths(command string) []string {
	var paths []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		for _, exempt := range exemptPathPrefixes {
			if strings.HasPrefix(s, exempt) || s == strings.TrimSuffix(exempt, "/") {
				return
			}
		}
		seen[s] = true
		paths = append(paths, s)
	}

	for _, m := range windowsPathRe.FindAllString(command, -1) {
		add(m)
	}
	for _, m := range gitBashPathRe.FindAllString(command, -1) {
		add(m)
	}
	for _, m := range unixPathRe.FindAllStringSubmatch(command, -1) {
		add(m[1])
	}
	return paths
}

func sensitiveBasenameHit(base string) string {
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return ".env"
	}
	for _, s := range sensitiveBasenames {
		if strings.Contains(base, s) {
			return s
		}
	}
	return ""
}

func strInput(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func extSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}
