package engine

import (
	"fmt"
	"html"
	"io"
	"sort"
	"strings"

	"github.com/google/pprof/profile"
)

// Stack is one folded call stack with its weight.
type Stack struct {
	// Frames are root first unless the stack was folded in reverse.
	Frames []string
	Value  int64
}

// valueIndex finds the first sample type among names, falling back to the
// profile's last sample type.
func valueIndex(p *profile.Profile, names ...string) int {
	for _, name := range names {
		for i, st := range p.SampleType {
			if st.Type == name {
				return i
			}
		}
	}
	return len(p.SampleType) - 1
}

// Collapse folds the samples of p into stacks weighted by sample type idx.
// Identical stacks are summed; the result is sorted by frame path.
func Collapse(p *profile.Profile, idx int, reverse bool) []Stack {
	if idx < 0 {
		return nil
	}

	sums := make(map[string]int64)
	for _, s := range p.Sample {
		if idx >= len(s.Value) || s.Value[idx] <= 0 {
			continue
		}

		// Locations and their inlined lines are leaf first.
		var frames []string
		for _, loc := range s.Location {
			for _, line := range loc.Line {
				if line.Function != nil {
					frames = append(frames, line.Function.Name)
				}
			}
			if len(loc.Line) == 0 {
				frames = append(frames, fmt.Sprintf("0x%x", loc.Address))
			}
		}
		if len(frames) == 0 {
			continue
		}
		if !reverse {
			for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
				frames[i], frames[j] = frames[j], frames[i]
			}
		}
		sums[strings.Join(frames, ";")] += s.Value[idx]
	}

	stacks := make([]Stack, 0, len(sums))
	for key, v := range sums {
		stacks = append(stacks, Stack{Frames: strings.Split(key, ";"), Value: v})
	}
	sort.Slice(stacks, func(i, j int) bool {
		return strings.Join(stacks[i].Frames, ";") < strings.Join(stacks[j].Frames, ";")
	})
	return stacks
}

// WriteCollapsed writes stacks in the folded format ("a;b;c 42").
func WriteCollapsed(w io.Writer, stacks []Stack) error {
	for _, s := range stacks {
		if _, err := fmt.Fprintf(w, "%s %d\n", strings.Join(s.Frames, ";"), s.Value); err != nil {
			return err
		}
	}
	return nil
}

type flameNode struct {
	name     string
	value    int64
	children map[string]*flameNode
	order    []string
}

func (n *flameNode) child(name string) *flameNode {
	c, ok := n.children[name]
	if !ok {
		c = &flameNode{name: name, children: make(map[string]*flameNode)}
		n.children[name] = c
		n.order = append(n.order, name)
	}
	return c
}

// FlameGraphOptions controls WriteFlameGraph.
type FlameGraphOptions struct {
	Title string
	// Unit labels the totals, e.g. "samples" or "bytes".
	Unit string
	// MinWidth hides frames narrower than this percentage of the total.
	MinWidth float64
}

var flameColors = []string{
	"#ff6633", "#ff8855", "#ffaa77", "#ffcc99",
	"#ff5533", "#ff7744", "#ff9966", "#ffbb88",
	"#e85533", "#e87744", "#e89966", "#eebb88",
}

const (
	flameWidth       = 1200
	flameFrameHeight = 16
	flameMargin      = 10
	flameHeader      = 40
)

// WriteFlameGraph renders stacks as a self-contained HTML page with an
// inline SVG icicle-style flame graph (root at the top).
func WriteFlameGraph(w io.Writer, stacks []Stack, opts FlameGraphOptions) error {
	title := opts.Title
	if title == "" {
		title = "Flame Graph"
	}
	unit := opts.Unit
	if unit == "" {
		unit = "samples"
	}

	root := &flameNode{name: "all", children: make(map[string]*flameNode)}
	depth := 0
	for _, s := range stacks {
		root.value += s.Value
		n := root
		for _, f := range s.Frames {
			n = n.child(f)
			n.value += s.Value
		}
		if len(s.Frames) > depth {
			depth = len(s.Frames)
		}
	}

	height := flameHeader + (depth+1)*flameFrameHeight + flameMargin

	var sb strings.Builder
	fmt.Fprintf(&sb, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
  body { margin: 0; font-family: monospace; }
  .func { font-size: 12px; }
  rect:hover { stroke: black; stroke-width: 1; }
</style>
</head>
<body>
<svg version="1.1" width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
<text x="%d" y="20" class="func" style="font-size:14px; font-weight:bold">%s (%d %s)</text>
`, html.EscapeString(title), flameWidth, height, flameMargin, html.EscapeString(title), root.value, html.EscapeString(unit))

	if root.value > 0 {
		scale := float64(flameWidth-2*flameMargin) / float64(root.value)
		minValue := opts.MinWidth / 100 * float64(root.value)
		drawFlameNode(&sb, root, 0, float64(flameMargin), scale, minValue, root.value, unit)
	} else {
		fmt.Fprintf(&sb, `<text x="%d" y="%d" class="func">no samples</text>`+"\n", flameMargin, flameHeader+flameFrameHeight)
	}

	sb.WriteString("</svg>\n</body>\n</html>\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

func drawFlameNode(sb *strings.Builder, n *flameNode, depth int, x, scale, minValue float64, total int64, unit string) {
	width := float64(n.value) * scale
	if width < 1 || float64(n.value) < minValue {
		return
	}

	y := flameHeader + depth*flameFrameHeight
	pct := float64(n.value) / float64(total) * 100
	label := n.name
	if maxChars := int(width / 7); len(label) > maxChars {
		if maxChars > 3 {
			label = label[:maxChars-2] + ".."
		} else {
			label = ""
		}
	}

	fmt.Fprintf(sb, `<g><title>%s (%d %s, %.2f%%)</title><rect x="%.1f" y="%d" width="%.1f" height="%d" fill="%s" rx="1"/>`,
		html.EscapeString(n.name), n.value, html.EscapeString(unit), pct, x, y, width, flameFrameHeight-1, flameColors[depth%len(flameColors)])
	if label != "" {
		fmt.Fprintf(sb, `<text x="%.1f" y="%d" class="func">%s</text>`, x+2, y+flameFrameHeight-4, html.EscapeString(label))
	}
	sb.WriteString("</g>\n")

	names := append([]string(nil), n.order...)
	sort.Strings(names)
	for _, name := range names {
		c := n.children[name]
		drawFlameNode(sb, c, depth+1, x, scale, minValue, total, unit)
		x += float64(c.value) * scale
	}
}
