package task

import (
	"fmt"

	profilerv1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
)

// FromWire converts a dispatched wire descriptor. The flat optional fields of
// the wire message are folded into the FormatOptions variant they belong to;
// fields from two different variants are rejected here, a variant that does
// not fit the format is rejected by New.
func FromWire(d *profilerv1.TaskDescriptor) (Descriptor, error) {
	if d == nil {
		return Descriptor{}, fmt.Errorf("nil task descriptor")
	}

	desc := Descriptor{
		TaskID:     d.TaskId,
		ExecArgs:   d.ExecArgs,
		Duration:   int(d.Duration),
		CreateTime: d.CreateTime,
		Format:     ParseFormat(d.DataFormat),
	}

	hasJFR := d.ChunkSize != "" || d.ChunkTime != ""
	hasFlame := d.Title != "" || d.MinWidth != ""
	hasShared := d.Reverse || d.Total

	switch {
	case hasJFR && (hasFlame || hasShared):
		return Descriptor{}, fmt.Errorf("task %s: %w: recording and stack options combined", d.TaskId, ErrOptionsMismatch)
	case hasJFR:
		desc.Options = JFROptions{ChunkSize: d.ChunkSize, ChunkTime: d.ChunkTime}
	case hasFlame:
		desc.Options = FlameGraphOptions{Title: d.Title, MinWidth: d.MinWidth, Reverse: d.Reverse, Total: d.Total}
	case hasShared && desc.Format == FormatCollapsed:
		desc.Options = CollapsedOptions{Reverse: d.Reverse, Total: d.Total}
	case hasShared:
		desc.Options = FlameGraphOptions{Reverse: d.Reverse, Total: d.Total}
	}

	return desc, nil
}

// ToWire is the inverse of FromWire. The development collector uses it to
// serve tasks loaded from its YAML queue.
func ToWire(desc Descriptor) *profilerv1.TaskDescriptor {
	d := &profilerv1.TaskDescriptor{
		TaskId:     desc.TaskID,
		ExecArgs:   desc.ExecArgs,
		Duration:   int32(desc.Duration), //nolint:gosec // G115: durations are seconds.
		CreateTime: desc.CreateTime,
	}
	if desc.Format != FormatUnset {
		d.DataFormat = desc.Format.token()
	}

	switch o := desc.Options.(type) {
	case JFROptions:
		d.ChunkSize, d.ChunkTime = o.ChunkSize, o.ChunkTime
	case FlameGraphOptions:
		d.Title, d.MinWidth, d.Reverse, d.Total = o.Title, o.MinWidth, o.Reverse, o.Total
	case CollapsedOptions:
		d.Reverse, d.Total = o.Reverse, o.Total
	}
	return d
}
