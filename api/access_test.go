package api

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"collab-board/domain"
)

func TestAuthorizeCreateAlwaysAllowed(t *testing.T) {
	if err := authorize(domain.Task{}, "anyone", OpCreate); err != nil {
		t.Fatalf("create denied: %v", err)
	}
}

func TestAuthorizeDeleteRequiresCreator(t *testing.T) {
	assignee := domain.UserRef{ID: "u2"}
	task := domain.Task{CreatedBy: domain.UserRef{ID: "u1"}, AssignedTo: &assignee}

	if err := authorize(task, "u1", OpDelete); err != nil {
		t.Fatalf("creator delete denied: %v", err)
	}
	if err := authorize(task, "u2", OpDelete); err == nil {
		t.Fatal("assignee delete allowed")
	}
	if err := authorize(task, "u3", OpDelete); err == nil {
		t.Fatal("stranger delete allowed")
	}
}

// The update gate must admit exactly the creator and the current assignee,
// for every combination of assignment and actor.
func TestAuthorizeUpdateProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	userIDs := make([]string, 8)
	for i := range userIDs {
		userIDs[i] = fmt.Sprintf("user-%d", i)
	}

	for i := 0; i < 500; i++ {
		creator := userIDs[rng.IntN(len(userIDs))]
		task := domain.Task{CreatedBy: domain.UserRef{ID: creator}}
		if rng.IntN(2) == 0 {
			assignee := domain.UserRef{ID: userIDs[rng.IntN(len(userIDs))]}
			task.AssignedTo = &assignee
		}
		actor := userIDs[rng.IntN(len(userIDs))]

		want := actor == task.CreatedBy.ID || (task.AssignedTo != nil && actor == task.AssignedTo.ID)
		got := authorize(task, actor, OpUpdate) == nil
		if got != want {
			t.Fatalf("authorize(creator=%s assignee=%v actor=%s) = %v, want %v",
				creator, task.AssignedTo, actor, got, want)
		}
	}
}
