package storage

import (
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"collab-board/domain"
)

// Timestamps are stored as RFC3339Nano strings so entity properties stay
// plain table strings and survive round-trips without Edm annotations.
const timeLayout = time.RFC3339Nano

type taskEntity struct {
	aztables.Entity
	Title           string `json:"Title"`
	Description     string `json:"Description"`
	Status          string `json:"Status"`
	Priority        string `json:"Priority"`
	CreatedByID     string `json:"CreatedById"`
	CreatedByName   string `json:"CreatedByName"`
	CreatedByEmail  string `json:"CreatedByEmail"`
	CreatedByAvatar string `json:"CreatedByAvatar"`
	AssignedToID    string `json:"AssignedToId"`
	AssignedToName  string `json:"AssignedToName"`
	AssignedToEmail string `json:"AssignedToEmail"`
	AssignedAvatar  string `json:"AssignedToAvatar"`
	DueDate         string `json:"DueDate"`
	CreatedAt       string `json:"CreatedAt"`
	UpdatedAt       string `json:"UpdatedAt"`
}

func taskToEntity(task domain.Task) taskEntity {
	ent := taskEntity{
		Entity:          aztables.Entity{PartitionKey: taskPartition, RowKey: task.ID},
		Title:           task.Title,
		Description:     task.Description,
		Status:          string(task.Status),
		Priority:        string(task.Priority),
		CreatedByID:     task.CreatedBy.ID,
		CreatedByName:   task.CreatedBy.Name,
		CreatedByEmail:  task.CreatedBy.Email,
		CreatedByAvatar: task.CreatedBy.Avatar,
		CreatedAt:       task.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:       task.UpdatedAt.UTC().Format(timeLayout),
	}
	if task.AssignedTo != nil {
		ent.AssignedToID = task.AssignedTo.ID
		ent.AssignedToName = task.AssignedTo.Name
		ent.AssignedToEmail = task.AssignedTo.Email
		ent.AssignedAvatar = task.AssignedTo.Avatar
	}
	if task.DueDate != nil {
		ent.DueDate = task.DueDate.UTC().Format(timeLayout)
	}
	return ent
}

func taskFromEntity(ent taskEntity) (domain.Task, error) {
	task := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		CreatedBy: domain.UserRef{
			ID:     ent.CreatedByID,
			Name:   ent.CreatedByName,
			Email:  ent.CreatedByEmail,
			Avatar: ent.CreatedByAvatar,
		},
	}
	if ent.AssignedToID != "" {
		task.AssignedTo = &domain.UserRef{
			ID:     ent.AssignedToID,
			Name:   ent.AssignedToName,
			Email:  ent.AssignedToEmail,
			Avatar: ent.AssignedAvatar,
		}
	}
	var err error
	if task.CreatedAt, err = parseEntityTime(ent.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	if task.UpdatedAt, err = parseEntityTime(ent.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	if ent.DueDate != "" {
		due, err := time.Parse(timeLayout, ent.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		task.DueDate = &due
	}
	return task, nil
}

func taskFromEntityJSON(raw []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(raw, &ent); err != nil {
		return domain.Task{}, err
	}
	return taskFromEntity(ent)
}

func parseEntityTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, v)
}

type activityEntity struct {
	aztables.Entity
	ActorID          string `json:"ActorId"`
	ActorName        string `json:"ActorName"`
	ActorEmail       string `json:"ActorEmail"`
	ActorAvatar      string `json:"ActorAvatar"`
	Action           string `json:"Action"`
	TaskID           string `json:"TaskId"`
	TaskTitle        string `json:"TaskTitle"`
	Details          string `json:"Details"`
	AccessCreatedBy  string `json:"AccessCreatedBy"`
	AccessAssignedTo string `json:"AccessAssignedTo"`
	Timestamp        string `json:"ActivityTimestamp"`
}

// activityToEntity denormalizes the target task's creator and assignee so
// accessible-activity queries stay single-table scans.
func activityToEntity(activity domain.Activity, task domain.Task) (activityEntity, error) {
	details, err := sonic.Marshal(activity.Details)
	if err != nil {
		return activityEntity{}, err
	}
	ent := activityEntity{
		Entity:          aztables.Entity{PartitionKey: activityPartition, RowKey: activity.ID},
		ActorID:         activity.Actor.ID,
		ActorName:       activity.Actor.Name,
		ActorEmail:      activity.Actor.Email,
		ActorAvatar:     activity.Actor.Avatar,
		Action:          string(activity.Action),
		TaskID:          activity.TaskID,
		TaskTitle:       activity.TaskTitle,
		Details:         string(details),
		AccessCreatedBy: task.CreatedBy.ID,
		Timestamp:       activity.Timestamp.UTC().Format(timeLayout),
	}
	if task.AssignedTo != nil {
		ent.AccessAssignedTo = task.AssignedTo.ID
	}
	return ent, nil
}

func activityFromEntityJSON(raw []byte) (domain.Activity, error) {
	var ent activityEntity
	if err := json.Unmarshal(raw, &ent); err != nil {
		return domain.Activity{}, err
	}
	activity := domain.Activity{
		ID: ent.RowKey,
		Actor: domain.UserRef{
			ID:     ent.ActorID,
			Name:   ent.ActorName,
			Email:  ent.ActorEmail,
			Avatar: ent.ActorAvatar,
		},
		Action:    domain.Action(ent.Action),
		TaskID:    ent.TaskID,
		TaskTitle: ent.TaskTitle,
	}
	if ent.Details != "" {
		if err := sonic.Unmarshal([]byte(ent.Details), &activity.Details); err != nil {
			return domain.Activity{}, err
		}
	}
	var err error
	if activity.Timestamp, err = parseEntityTime(ent.Timestamp); err != nil {
		return domain.Activity{}, err
	}
	return activity, nil
}

type userEntity struct {
	aztables.Entity
	Name   string `json:"Name"`
	Email  string `json:"Email"`
	Avatar string `json:"Avatar"`
	Active bool   `json:"Active"`
}

func userFromEntityJSON(raw []byte) (domain.User, error) {
	var ent userEntity
	if err := json.Unmarshal(raw, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{
		UserRef: domain.UserRef{
			ID:     ent.RowKey,
			Name:   ent.Name,
			Email:  ent.Email,
			Avatar: ent.Avatar,
		},
		Active: ent.Active,
	}, nil
}
