// Package task defines the Task record shared by the local store, the remote
// store and the sync engine.
package task

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority is the urgency bucket of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ParsePriority accepts a priority name in any case.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

const (
	// DateLayout is the stored format of DueDate (DD-MM-YYYY).
	DateLayout = "02-01-2006"
	// TimeLayout is the stored format of DueTime (HH:mm).
	TimeLayout = "15:04"

	// DocKeyPrefix prefixes the local id in remote document keys.
	DocKeyPrefix = "task_"

	DefaultDescription = "No description"
	DefaultLocation    = "Google Classroom"

	maxTitleLength = 500
)

var (
	ErrMissingTitle    = errors.New("title is required")
	ErrTitleTooLong    = errors.New("title is too long")
	ErrInvalidPriority = errors.New("invalid priority")
	ErrInvalidDueDate  = errors.New("invalid due date")
	ErrInvalidDueTime  = errors.New("invalid due time")
	ErrMissingCreated  = errors.New("created_at is required")
	ErrInvalidDocKey   = errors.New("invalid document key")

	// ErrNotFound is returned by stores when no task has the requested id.
	ErrNotFound = errors.New("task not found")
)

// Task is the unit of synchronization.
//
// CreatedAt doubles as the conflict-resolution clock: when both stores hold
// the same id, the copy with the later CreatedAt wins.
type Task struct {
	ID           int64    `json:"id" yaml:"id" firestore:"id"`
	Title        string   `json:"title" yaml:"title" firestore:"title"`
	Description  string   `json:"description" yaml:"description" firestore:"description"`
	Location     string   `json:"location" yaml:"location" firestore:"location"`
	DueDate      string   `json:"dueDate" yaml:"due_date" firestore:"dueDate"`
	DueTime      string   `json:"dueTime" yaml:"due_time" firestore:"dueTime"`
	Priority     Priority `json:"priority" yaml:"priority" firestore:"priority"`
	IsCompleted  bool     `json:"isCompleted" yaml:"is_completed" firestore:"isCompleted"`
	CreatedAt    int64    `json:"createdAt" yaml:"created_at" firestore:"createdAt"`
	ReminderTime int64    `json:"reminderTime" yaml:"reminder_time" firestore:"reminderTime"`
	ReminderSet  bool     `json:"reminderSet" yaml:"reminder_set" firestore:"reminderSet"`
}

// New returns a task with creation defaults applied at now.
func New(title string, now time.Time) *Task {
	t := &Task{Title: title}
	t.SetDefaults(now)
	return t
}

// SetDefaults fills empty fields the way task creation does.
func (t *Task) SetDefaults(now time.Time) {
	if t.Description == "" {
		t.Description = DefaultDescription
	}
	if t.Location == "" {
		t.Location = DefaultLocation
	}
	if t.DueDate == "" {
		t.DueDate = now.Format(DateLayout)
	}
	if t.DueTime == "" {
		t.DueTime = now.Format(TimeLayout)
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = now.UnixMilli()
	}
}

// Validate checks field formats. The id is not checked because a task that
// has not been inserted yet has no id.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrMissingTitle
	}
	if len(t.Title) > maxTitleLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrTitleTooLong, len(t.Title), maxTitleLength)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, t.Priority)
	}
	if _, err := time.Parse(DateLayout, t.DueDate); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDueDate, t.DueDate)
	}
	if _, err := time.Parse(TimeLayout, t.DueTime); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDueTime, t.DueTime)
	}
	if t.CreatedAt <= 0 {
		return ErrMissingCreated
	}
	return nil
}

// DocKey is the remote document key for this task.
func (t *Task) DocKey() string {
	return DocKey(t.ID)
}

// DocKey derives the remote document key for a local id.
func DocKey(id int64) string {
	return DocKeyPrefix + strconv.FormatInt(id, 10)
}

// ParseDocKey is the inverse of DocKey.
func ParseDocKey(key string) (int64, error) {
	raw, ok := strings.CutPrefix(key, DocKeyPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDocKey, key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDocKey, key)
	}
	return id, nil
}

// Clone returns an independent copy.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Created returns CreatedAt as a time.
func (t *Task) Created() time.Time {
	return time.UnixMilli(t.CreatedAt)
}

// Deadline combines DueDate and DueTime in loc.
func (t *Task) Deadline(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(DateLayout+" "+TimeLayout, t.DueDate+" "+t.DueTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid deadline %q %q: %w", t.DueDate, t.DueTime, err)
	}
	return d, nil
}

// IsOverdue reports whether an open task is past its deadline.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.IsCompleted {
		return false
	}
	d, err := t.Deadline(now.Location())
	if err != nil {
		return false
	}
	return d.Before(now)
}

// IsDueSoon reports whether the deadline is between one and twenty-four
// whole hours away.
func (t *Task) IsDueSoon(now time.Time) bool {
	d, err := t.Deadline(now.Location())
	if err != nil {
		return false
	}
	hours := int(d.Sub(now).Hours())
	return hours >= 1 && hours <= 24
}

// TimeRemaining renders the distance to the deadline in the coarsest unit.
func (t *Task) TimeRemaining(now time.Time) string {
	d, err := t.Deadline(now.Location())
	if err != nil {
		return "Invalid date"
	}
	diff := d.Sub(now)
	if diff < 0 {
		return "Overdue"
	}
	days := int(diff.Hours()) / 24
	hours := int(diff.Hours()) % 24
	minutes := int(diff.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%d days left", days)
	case hours > 0:
		return fmt.Sprintf("%d hours left", hours)
	default:
		return fmt.Sprintf("%d minutes left", minutes)
	}
}

// ScheduleReminder sets the reminder to fire offset before the deadline.
func (t *Task) ScheduleReminder(offset time.Duration, loc *time.Location) error {
	if offset <= 0 {
		return fmt.Errorf("reminder offset must be positive (got %s)", offset)
	}
	d, err := t.Deadline(loc)
	if err != nil {
		return err
	}
	t.ReminderTime = d.Add(-offset).UnixMilli()
	t.ReminderSet = true
	return nil
}

// ClearReminder unsets the reminder.
func (t *Task) ClearReminder() {
	t.ReminderTime = 0
	t.ReminderSet = false
}
