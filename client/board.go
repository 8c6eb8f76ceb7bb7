package client

import (
	"fmt"

	"collab-board/domain"
)

// Board is the client-side view of the task board, one ordered column per
// status. It is not safe for concurrent use; SyncEngine serializes access.
type Board struct {
	columns map[domain.Status][]domain.Task
}

// NewBoard creates an empty board with all three columns present.
func NewBoard() *Board {
	b := &Board{columns: make(map[domain.Status][]domain.Task, len(domain.Statuses))}
	for _, status := range domain.Statuses {
		b.columns[status] = []domain.Task{}
	}
	return b
}

// Load replaces the board content with the server's grouped snapshot.
func (b *Board) Load(grouped map[domain.Status][]domain.Task) {
	for _, status := range domain.Statuses {
		tasks := grouped[status]
		b.columns[status] = append([]domain.Task{}, tasks...)
	}
}

// Tasks returns a copy of the column for status.
func (b *Board) Tasks(status domain.Status) []domain.Task {
	return append([]domain.Task{}, b.columns[status]...)
}

// Find locates a task anywhere on the board.
func (b *Board) Find(taskID string) (domain.Task, bool) {
	for _, status := range domain.Statuses {
		for _, task := range b.columns[status] {
			if task.ID == taskID {
				return task, true
			}
		}
	}
	return domain.Task{}, false
}

// Upsert places the task in the column matching its status, replacing any
// existing copy in place and removing it from every other column. Tasks
// never seen before are appended, so a broadcast about an unknown task
// merges cleanly.
func (b *Board) Upsert(task domain.Task) {
	for _, status := range domain.Statuses {
		col := b.columns[status]
		for i, existing := range col {
			if existing.ID != task.ID {
				continue
			}
			if status == task.Status {
				col[i] = task
				return
			}
			b.columns[status] = append(col[:i:i], col[i+1:]...)
		}
	}
	b.columns[task.Status] = append(b.columns[task.Status], task)
}

// Remove deletes the task from whichever column holds it.
func (b *Board) Remove(taskID string) {
	for _, status := range domain.Statuses {
		col := b.columns[status]
		for i, task := range col {
			if task.ID == taskID {
				b.columns[status] = append(col[:i:i], col[i+1:]...)
				return
			}
		}
	}
}

// Reorder moves the task at index from to index to inside one column. The
// ordering is a purely local concern and is never sent to the server.
func (b *Board) Reorder(status domain.Status, from, to int) error {
	col := b.columns[status]
	if from < 0 || from >= len(col) || to < 0 || to >= len(col) {
		return fmt.Errorf("reorder out of range: %d -> %d in %d tasks", from, to, len(col))
	}
	task := col[from]
	col = append(col[:from:from], col[from+1:]...)
	col = append(col[:to], append([]domain.Task{task}, col[to:]...)...)
	b.columns[status] = col
	return nil
}

// taskSnapshot captures one task's pre-mutation state: the task itself, the
// column it sat in and its position there. exists is false when the task was
// not on the board, which is what a provisional create rolls back to.
type taskSnapshot struct {
	task   domain.Task
	status domain.Status
	index  int
	exists bool
}

// snapshotTask captures the state of a single task for rollback. The
// snapshot is scoped to that task so broadcasts about other tasks merged
// while a mutation is in flight survive the restore.
func (b *Board) snapshotTask(taskID string) taskSnapshot {
	for _, status := range domain.Statuses {
		for i, task := range b.columns[status] {
			if task.ID == taskID {
				return taskSnapshot{task: task, status: status, index: i, exists: true}
			}
		}
	}
	return taskSnapshot{}
}

// restoreTask undoes an optimistic change to one task: the current copy is
// removed and, if the task existed before, the original is reinserted at its
// old position, clamped to the column's current length.
func (b *Board) restoreTask(taskID string, snap taskSnapshot) {
	b.Remove(taskID)
	if !snap.exists {
		return
	}
	col := b.columns[snap.status]
	i := snap.index
	if i > len(col) {
		i = len(col)
	}
	col = append(col[:i:i], append([]domain.Task{snap.task}, col[i:]...)...)
	b.columns[snap.status] = col
}
