package trace

import "sort"

// IterationSpan groups the tools that ran within one agent iteration.
type IterationSpan struct {
	Iteration int      `json:"iteration"`
	StartMS   int64    `json:"start_ms"`
	EndMS     int64    `json:"end_ms"`
	Tools     []string `json:"tools"`
}

// Timeline is the visualization view over a trace: tool spans paired from
// start/result events, interleaved with sandbox blocks and thinking marks.
type Timeline struct {
	TraceID         string           `json:"trace_id"`
	TotalDurationMS *int64           `json:"total_duration_ms"`
	Stats           *Stats           `json:"stats"`
	Items           []map[string]any `json:"timeline"`
	Iterations      []IterationSpan  `json:"iterations"`
}

// BuildTimeline reconstructs tool execution spans from a trace document.
// Tool spans appear once their result event arrives; starts without results
// (crashed turns) are dropped, matching the replay the UI renders.
func BuildTimeline(f *File) Timeline {
	type openSpan struct {
		startMS   int64
		name      string
		iteration int
		group     string
	}
	starts := make(map[string]openSpan)
	items := make([]map[string]any, 0, len(f.Events))

	for _, ev := range f.Events {
		switch ev.EventType {
		case "tool_start":
			id := dataString(ev.Data, "tool_id")
			starts[id] = openSpan{
				startMS:   ev.ElapsedMS,
				name:      dataString(ev.Data, "name"),
				iteration: dataInt(ev.Data, "iteration"),
				group:     dataString(ev.Data, "parallel_group"),
			}
		case "tool_result":
			id := dataString(ev.Data, "tool_id")
			start, ok := starts[id]
			if !ok {
				continue
			}
			duration := dataInt(ev.Data, "duration_ms")
			if duration == 0 {
				duration = int(ev.ElapsedMS - start.startMS)
			}
			items = append(items, map[string]any{
				"type":           "tool",
				"tool_id":        id,
				"name":           start.name,
				"start_ms":       start.startMS,
				"end_ms":         ev.ElapsedMS,
				"duration_ms":    duration,
				"status":         dataString(ev.Data, "status"),
				"iteration":      start.iteration,
				"parallel_group": start.group,
				"is_error":       dataBool(ev.Data, "is_error"),
			})
		case "sandbox_block":
			items = append(items, map[string]any{
				"type":         "sandbox_block",
				"tool_name":    dataString(ev.Data, "tool_name"),
				"time_ms":      ev.ElapsedMS,
				"reason":       dataString(ev.Data, "reason"),
				"blocked_path": dataString(ev.Data, "blocked_path"),
			})
		case "thinking":
			length := dataInt(ev.Data, "length")
			if length == 0 {
				length = len([]rune(dataString(ev.Data, "thinking")))
			}
			items = append(items, map[string]any{
				"type":             "thinking",
				"time_ms":          ev.ElapsedMS,
				"length":           length,
				"estimated_tokens": dataInt(ev.Data, "estimated_tokens"),
			})
		}
	}

	spans := make(map[int]*IterationSpan)
	for _, item := range items {
		if item["type"] != "tool" {
			continue
		}
		it := item["iteration"].(int)
		startMS := item["start_ms"].(int64)
		endMS := item["end_ms"].(int64)
		span, ok := spans[it]
		if !ok {
			span = &IterationSpan{Iteration: it, StartMS: startMS, EndMS: endMS}
			spans[it] = span
		}
		span.Tools = append(span.Tools, item["tool_id"].(string))
		if endMS > span.EndMS {
			span.EndMS = endMS
		}
	}
	iterations := make([]IterationSpan, 0, len(spans))
	for _, span := range spans {
		iterations = append(iterations, *span)
	}
	sort.Slice(iterations, func(i, j int) bool { return iterations[i].Iteration < iterations[j].Iteration })

	return Timeline{
		TraceID:         f.Metadata.TraceID,
		TotalDurationMS: f.Metadata.DurationMS,
		Stats:           f.Metadata.Stats,
		Items:           items,
		Iterations:      iterations,
	}
}
