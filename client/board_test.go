package client

import (
	"testing"

	"collab-board/domain"
)

func boardWith(tasks ...domain.Task) *Board {
	b := NewBoard()
	for _, task := range tasks {
		b.Upsert(task)
	}
	return b
}

func TestUpsertMovesBetweenColumns(t *testing.T) {
	b := boardWith(domain.Task{ID: "t1", Title: "a", Status: domain.StatusTodo})

	moved := domain.Task{ID: "t1", Title: "a", Status: domain.StatusDone}
	b.Upsert(moved)

	if got := b.Tasks(domain.StatusTodo); len(got) != 0 {
		t.Fatalf("task still in old column: %#v", got)
	}
	done := b.Tasks(domain.StatusDone)
	if len(done) != 1 || done[0].ID != "t1" {
		t.Fatalf("task not in new column: %#v", done)
	}
}

func TestUpsertReplacesInPlace(t *testing.T) {
	b := boardWith(
		domain.Task{ID: "t1", Title: "first", Status: domain.StatusTodo},
		domain.Task{ID: "t2", Title: "second", Status: domain.StatusTodo},
	)

	b.Upsert(domain.Task{ID: "t1", Title: "renamed", Status: domain.StatusTodo})

	todo := b.Tasks(domain.StatusTodo)
	if len(todo) != 2 || todo[0].Title != "renamed" || todo[1].ID != "t2" {
		t.Fatalf("in-place replace broke ordering: %#v", todo)
	}
}

func TestUpsertUnknownTaskAppends(t *testing.T) {
	b := NewBoard()
	b.Upsert(domain.Task{ID: "new", Status: domain.StatusInProgress})
	if got := b.Tasks(domain.StatusInProgress); len(got) != 1 {
		t.Fatalf("unknown task not appended: %#v", got)
	}
}

func TestRemove(t *testing.T) {
	b := boardWith(domain.Task{ID: "t1", Status: domain.StatusTodo})
	b.Remove("t1")
	b.Remove("missing")
	if got := b.Tasks(domain.StatusTodo); len(got) != 0 {
		t.Fatalf("task not removed: %#v", got)
	}
}

func TestReorder(t *testing.T) {
	b := boardWith(
		domain.Task{ID: "t1", Status: domain.StatusTodo},
		domain.Task{ID: "t2", Status: domain.StatusTodo},
		domain.Task{ID: "t3", Status: domain.StatusTodo},
	)

	if err := b.Reorder(domain.StatusTodo, 2, 0); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	todo := b.Tasks(domain.StatusTodo)
	if todo[0].ID != "t3" || todo[1].ID != "t1" || todo[2].ID != "t2" {
		t.Fatalf("unexpected order: %#v", todo)
	}

	if err := b.Reorder(domain.StatusTodo, 0, 5); err == nil {
		t.Fatal("out-of-range reorder accepted")
	}
}

func TestRestoreTaskReinsertsAtOriginalPosition(t *testing.T) {
	b := boardWith(
		domain.Task{ID: "t1", Status: domain.StatusTodo},
		domain.Task{ID: "t2", Title: "keep", Status: domain.StatusTodo},
		domain.Task{ID: "t3", Status: domain.StatusTodo},
	)
	snap := b.snapshotTask("t2")

	b.Upsert(domain.Task{ID: "t2", Title: "mutated", Status: domain.StatusDone})
	b.restoreTask("t2", snap)

	todo := b.Tasks(domain.StatusTodo)
	if len(todo) != 3 || todo[1].ID != "t2" || todo[1].Title != "keep" {
		t.Fatalf("task not restored at its old position: %#v", todo)
	}
	if got := b.Tasks(domain.StatusDone); len(got) != 0 {
		t.Fatalf("mutated copy survived restore: %#v", got)
	}
}

func TestRestoreTaskLeavesOtherTasksAlone(t *testing.T) {
	b := boardWith(domain.Task{ID: "t1", Status: domain.StatusTodo})
	snap := b.snapshotTask("t1")

	b.Upsert(domain.Task{ID: "t1", Status: domain.StatusDone})
	b.Upsert(domain.Task{ID: "remote", Status: domain.StatusInProgress})
	b.restoreTask("t1", snap)

	if got := b.Tasks(domain.StatusInProgress); len(got) != 1 || got[0].ID != "remote" {
		t.Fatalf("restore touched an unrelated task: %#v", got)
	}
	if got := b.Tasks(domain.StatusTodo); len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("task not restored: %#v", got)
	}
}

func TestRestoreTaskRemovesNeverPersistedTask(t *testing.T) {
	b := NewBoard()
	snap := b.snapshotTask("ghost")
	b.Upsert(domain.Task{ID: "ghost", Status: domain.StatusTodo})
	b.restoreTask("ghost", snap)
	if got := b.Tasks(domain.StatusTodo); len(got) != 0 {
		t.Fatalf("provisional task survived restore: %#v", got)
	}
}

func TestRestoreTaskClampsIndex(t *testing.T) {
	b := boardWith(
		domain.Task{ID: "t1", Status: domain.StatusTodo},
		domain.Task{ID: "t2", Status: domain.StatusTodo},
		domain.Task{ID: "t3", Status: domain.StatusTodo},
	)
	snap := b.snapshotTask("t3")
	b.Remove("t3")
	b.Remove("t1")
	b.Remove("t2")

	b.restoreTask("t3", snap)
	if got := b.Tasks(domain.StatusTodo); len(got) != 1 || got[0].ID != "t3" {
		t.Fatalf("restore into shrunken column failed: %#v", got)
	}
}
