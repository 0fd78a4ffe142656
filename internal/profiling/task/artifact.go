package task

import (
	"errors"
	"os"
	"sync"
)

// Artifact is an open profiling output. It reads like a file and removes the
// file from disk when closed.
type Artifact struct {
	file *os.File
	size int64
	task *Task

	closeOnce sync.Once
	closeErr  error
}

// Read implements io.Reader.
func (a *Artifact) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// Size is the file size observed when the artifact was opened.
func (a *Artifact) Size() int64 {
	return a.size
}

// Name returns the artifact path.
func (a *Artifact) Name() string {
	return a.file.Name()
}

// Close closes the file and deletes it. Only the first call has an effect.
func (a *Artifact) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = errors.Join(a.file.Close(), a.task.RemoveArtifact())
	})
	return a.closeErr
}
