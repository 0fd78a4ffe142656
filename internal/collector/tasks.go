package collector

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	profilerv1 "github.com/coral-mesh/coral-profiler/coral/profiler/v1"
	"github.com/coral-mesh/coral-profiler/internal/safe"
)

// taskFile is the YAML layout of a task queue file:
//
//	tasks:
//	  - task_id: checkout-cpu-1
//	    exec_args: event=cpu,interval=10ms
//	    duration: 30
//	    data_format: html
//	    title: checkout
type taskFile struct {
	Tasks []taskEntry `yaml:"tasks"`
}

type taskEntry struct {
	TaskID     string `yaml:"task_id"`
	ExecArgs   string `yaml:"exec_args"`
	Duration   int32  `yaml:"duration"`
	CreateTime int64  `yaml:"create_time"`
	DataFormat string `yaml:"data_format"`
	ChunkSize  string `yaml:"chunk_size"`
	ChunkTime  string `yaml:"chunk_time"`
	Title      string `yaml:"title"`
	MinWidth   string `yaml:"min_width"`
	Reverse    bool   `yaml:"reverse"`
	Total      bool   `yaml:"total"`
}

// LoadTasks reads a task queue file. Entries without create_time are stamped
// with the current time in milliseconds, in file order.
func LoadTasks(path string) ([]*profilerv1.TaskDescriptor, error) {
	data, err := safe.ReadFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}
	return ParseTasks(data, time.Now())
}

// ParseTasks decodes a task queue document.
func ParseTasks(data []byte, now time.Time) ([]*profilerv1.TaskDescriptor, error) {
	var f taskFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tasks file: %w", err)
	}

	base := now.UnixMilli()
	tasks := make([]*profilerv1.TaskDescriptor, 0, len(f.Tasks))
	seen := make(map[string]bool, len(f.Tasks))
	for i, e := range f.Tasks {
		if e.TaskID == "" {
			return nil, fmt.Errorf("task %d: task_id is required", i)
		}
		if seen[e.TaskID] {
			return nil, fmt.Errorf("task %d: duplicate task_id %q", i, e.TaskID)
		}
		seen[e.TaskID] = true

		createTime := e.CreateTime
		if createTime == 0 {
			createTime = base + int64(i)
		}
		tasks = append(tasks, &profilerv1.TaskDescriptor{
			TaskId:     e.TaskID,
			ExecArgs:   e.ExecArgs,
			Duration:   e.Duration,
			CreateTime: createTime,
			DataFormat: e.DataFormat,
			ChunkSize:  e.ChunkSize,
			ChunkTime:  e.ChunkTime,
			Title:      e.Title,
			MinWidth:   e.MinWidth,
			Reverse:    e.Reverse,
			Total:      e.Total,
		})
	}
	return tasks, nil
}
