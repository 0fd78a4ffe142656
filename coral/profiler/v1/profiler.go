// Package profilerv1 contains the wire messages of the coral.profiler.v1
// service described in profiler.proto. Messages encode to the protobuf binary
// format with protowire so any protobuf peer can talk to the agent.
package profilerv1

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// CollectType tells the collector what a Collect stream carries.
type CollectType int32

const (
	// CollectTypeProfilingSuccess announces an artifact upload.
	CollectTypeProfilingSuccess CollectType = 0
	// CollectTypeExecutionTaskError announces a task failure report.
	CollectTypeExecutionTaskError CollectType = 1
)

// String returns the protobuf enum name.
func (t CollectType) String() string {
	switch t {
	case CollectTypeProfilingSuccess:
		return "PROFILING_SUCCESS"
	case CollectTypeExecutionTaskError:
		return "EXECUTION_TASK_ERROR"
	default:
		return fmt.Sprintf("CollectType(%d)", int32(t))
	}
}

// MetaData is the first frame of every Collect stream.
type MetaData struct {
	Service         string
	ServiceInstance string
	Type            CollectType
	ContentSize     int32
	TaskId          string //nolint:revive // Matches the protobuf field name.
}

// ProfilerData is one frame sent by the agent on a Collect stream. At most one
// of ErrorMessage and Content is set.
type ProfilerData struct {
	MetaData     *MetaData
	ErrorMessage string
	Content      []byte
}

// CollectAck is sent by the collector after it has validated the metadata frame.
type CollectAck struct {
	Accepted bool
	Message  string
}

// TaskListRequest asks the collector for tasks created after LastCommandTime.
type TaskListRequest struct {
	Service         string
	ServiceInstance string
	LastCommandTime int64
}

// TaskDescriptor is one dispatched profiling task.
type TaskDescriptor struct {
	TaskId     string //nolint:revive // Matches the protobuf field name.
	ExecArgs   string
	Duration   int32
	CreateTime int64
	DataFormat string
	ChunkSize  string
	ChunkTime  string
	Title      string
	MinWidth   string
	Reverse    bool
	Total      bool
}

// TaskListResponse carries the tasks dispatched to an instance.
type TaskListResponse struct {
	Tasks []*TaskDescriptor
}

// KeepAliveRequest identifies the probing instance.
type KeepAliveRequest struct {
	Service         string
	ServiceInstance string
}

// KeepAliveResponse is empty.
type KeepAliveResponse struct{}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

// fieldFunc decodes the value of one field and returns the number of bytes
// consumed, or a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

func consumeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m := fn(num, typ, b)
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func readString(num protowire.Number, typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return protowire.ConsumeFieldValue(num, typ, b)
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func readBytes(num protowire.Number, typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return protowire.ConsumeFieldValue(num, typ, b)
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = append([]byte(nil), v...)
	}
	return n
}

func readVarint(num protowire.Number, typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return protowire.ConsumeFieldValue(num, typ, b)
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

// Marshal encodes m in protobuf binary format.
func (m *MetaData) Marshal() ([]byte, error) {
	return m.appendTo(nil), nil
}

func (m *MetaData) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.Service)
	b = appendString(b, 2, m.ServiceInstance)
	b = appendVarint(b, 3, uint64(int64(m.Type)))
	b = appendVarint(b, 4, uint64(int64(m.ContentSize)))
	b = appendString(b, 5, m.TaskId)
	return b
}

// Unmarshal decodes m from protobuf binary format.
func (m *MetaData) Unmarshal(b []byte) error {
	*m = MetaData{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		switch num {
		case 1:
			return readString(num, typ, b, &m.Service)
		case 2:
			return readString(num, typ, b, &m.ServiceInstance)
		case 3:
			n := readVarint(num, typ, b, &v)
			m.Type = CollectType(int32(v))
			return n
		case 4:
			n := readVarint(num, typ, b, &v)
			m.ContentSize = int32(v)
			return n
		case 5:
			return readString(num, typ, b, &m.TaskId)
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
}

// Marshal encodes m in protobuf binary format.
func (m *ProfilerData) Marshal() ([]byte, error) {
	var b []byte
	if m.MetaData != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.MetaData.appendTo(nil))
	}
	b = appendString(b, 2, m.ErrorMessage)
	b = appendBytes(b, 3, m.Content)
	return b, nil
}

// Unmarshal decodes m from protobuf binary format.
func (m *ProfilerData) Unmarshal(b []byte) error {
	*m = ProfilerData{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			var raw []byte
			n := readBytes(num, typ, b, &raw)
			if n < 0 || typ != protowire.BytesType {
				return n
			}
			meta := &MetaData{}
			if err := meta.Unmarshal(raw); err != nil {
				return -1
			}
			m.MetaData = meta
			return n
		case 2:
			return readString(num, typ, b, &m.ErrorMessage)
		case 3:
			return readBytes(num, typ, b, &m.Content)
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
}

// Marshal encodes m in protobuf binary format.
func (m *CollectAck) Marshal() ([]byte, error) {
	var b []byte
	b = appendBool(b, 1, m.Accepted)
	b = appendString(b, 2, m.Message)
	return b, nil
}

// Unmarshal decodes m from protobuf binary format.
func (m *CollectAck) Unmarshal(b []byte) error {
	*m = CollectAck{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			var v uint64
			n := readVarint(num, typ, b, &v)
			m.Accepted = protowire.DecodeBool(v)
			return n
		case 2:
			return readString(num, typ, b, &m.Message)
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
}

// Marshal encodes m in protobuf binary format.
func (m *TaskListRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Service)
	b = appendString(b, 2, m.ServiceInstance)
	b = appendVarint(b, 3, uint64(m.LastCommandTime))
	return b, nil
}

// Unmarshal decodes m from protobuf binary format.
func (m *TaskListRequest) Unmarshal(b []byte) error {
	*m = TaskListRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(num, typ, b, &m.Service)
		case 2:
			return readString(num, typ, b, &m.ServiceInstance)
		case 3:
			var v uint64
			n := readVarint(num, typ, b, &v)
			m.LastCommandTime = int64(v)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
}

func (m *TaskDescriptor) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.TaskId)
	b = appendString(b, 2, m.ExecArgs)
	b = appendVarint(b, 3, uint64(int64(m.Duration)))
	b = appendVarint(b, 4, uint64(m.CreateTime))
	b = appendString(b, 5, m.DataFormat)
	b = appendString(b, 6, m.ChunkSize)
	b = appendString(b, 7, m.ChunkTime)
	b = appendString(b, 8, m.Title)
	b = appendString(b, 9, m.MinWidth)
	b = appendBool(b, 10, m.Reverse)
	b = appendBool(b, 11, m.Total)
	return b
}

// Marshal encodes m in protobuf binary format.
func (m *TaskDescriptor) Marshal() ([]byte, error) {
	return m.appendTo(nil), nil
}

// Unmarshal decodes m from protobuf binary format.
func (m *TaskDescriptor) Unmarshal(b []byte) error {
	*m = TaskDescriptor{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		switch num {
		case 1:
			return readString(num, typ, b, &m.TaskId)
		case 2:
			return readString(num, typ, b, &m.ExecArgs)
		case 3:
			n := readVarint(num, typ, b, &v)
			m.Duration = int32(v)
			return n
		case 4:
			n := readVarint(num, typ, b, &v)
			m.CreateTime = int64(v)
			return n
		case 5:
			return readString(num, typ, b, &m.DataFormat)
		case 6:
			return readString(num, typ, b, &m.ChunkSize)
		case 7:
			return readString(num, typ, b, &m.ChunkTime)
		case 8:
			return readString(num, typ, b, &m.Title)
		case 9:
			return readString(num, typ, b, &m.MinWidth)
		case 10:
			n := readVarint(num, typ, b, &v)
			m.Reverse = protowire.DecodeBool(v)
			return n
		case 11:
			n := readVarint(num, typ, b, &v)
			m.Total = protowire.DecodeBool(v)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
}

// Marshal encodes m in protobuf binary format.
func (m *TaskListResponse) Marshal() ([]byte, error) {
	var b []byte
	for _, t := range m.Tasks {
		if t == nil {
			continue
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, t.appendTo(nil))
	}
	return b, nil
}

// Unmarshal decodes m from protobuf binary format.
func (m *TaskListResponse) Unmarshal(b []byte) error {
	*m = TaskListResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b)
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		t := &TaskDescriptor{}
		if err := t.Unmarshal(raw); err != nil {
			return -1
		}
		m.Tasks = append(m.Tasks, t)
		return n
	})
}

// Marshal encodes m in protobuf binary format.
func (m *KeepAliveRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Service)
	b = appendString(b, 2, m.ServiceInstance)
	return b, nil
}

// Unmarshal decodes m from protobuf binary format.
func (m *KeepAliveRequest) Unmarshal(b []byte) error {
	*m = KeepAliveRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(num, typ, b, &m.Service)
		case 2:
			return readString(num, typ, b, &m.ServiceInstance)
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
}

// Marshal encodes m in protobuf binary format.
func (m *KeepAliveResponse) Marshal() ([]byte, error) {
	return nil, nil
}

// Unmarshal decodes m from protobuf binary format.
func (m *KeepAliveResponse) Unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		return protowire.ConsumeFieldValue(num, typ, b)
	})
}
