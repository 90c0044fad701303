package agent

// SafetyLookup reports whether the named tool is concurrency-safe. Unknown
// tools are treated as unsafe; the dispatcher rejects them anyway, and a
// conservative gate never over-schedules.
type SafetyLookup func(name string) bool

// SerialGate trims an assistant message's blocks so that at most one
// concurrency-unsafe tool_use survives: the first. Concurrency-safe blocks
// are kept even after the surviving unsafe one, and non-tool_use blocks pass
// through untouched.
func SerialGate(blocks []Block, isSafe SafetyLookup) []Block {
	var out []Block
	unsafeKept := false
	for _, b := range blocks {
		if b.Type != BlockToolUse {
			out = append(out, b)
			continue
		}
		if isSafe(b.ToolUse.Name) {
			out = append(out, b)
			continue
		}
		if unsafeKept {
			continue
		}
		unsafeKept = true
		out = append(out, b)
	}
	return out
}

// Group is one dispatch phase: either a parallel run of concurrency-safe
// tools or a single concurrency-unsafe tool.
type Group struct {
	Parallel bool
	Uses     []ToolUse
}

// PlanGroups partitions tool uses into ordered groups: each run of
// consecutive concurrency-safe uses forms one parallel group; each unsafe
// use forms its own serial group of size 1.
func PlanGroups(uses []ToolUse, isSafe SafetyLookup) []Group {
	var groups []Group
	var run []ToolUse
	flush := func() {
		if len(run) > 0 {
			groups = append(groups, Group{Parallel: true, Uses: run})
			run = nil
		}
	}
	for _, use := range uses {
		if isSafe(use.Name) {
			run = append(run, use)
			continue
		}
		flush()
		groups = append(groups, Group{Uses: []ToolUse{use}})
	}
	flush()
	return groups
}
