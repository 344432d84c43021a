package model

import "time"

// StaffCategory is the rotation pool a staff member belongs to.
type StaffCategory string

const (
	// CategoryUnset marks legacy rows that still need classification.
	CategoryUnset StaffCategory = ""
	// CategoryRegular staff rotate through every space.
	CategoryRegular StaffCategory = "regular"
	// CategorySpecialist staff (PE, arts, English, USAER) rotate as a separate pool.
	CategorySpecialist StaffCategory = "specialist"
	// CategoryExcluded staff (directors) never take guard duty.
	CategoryExcluded StaffCategory = "excluded"
)

// StaffMember is a person on the school's staff directory.
type StaffMember struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name" validate:"required"`
	Role     string        `json:"role"`
	Group    string        `json:"group"`
	Category StaffCategory `json:"category" validate:"omitempty,oneof=regular specialist excluded"`
}

// StaffImport is used for loading staff from JSON files.
type StaffImport struct {
	Name     string        `json:"name"`
	Role     string        `json:"role"`
	Group    string        `json:"group"`
	Category StaffCategory `json:"category,omitempty"`
}

// Student is an enrolled student.
type Student struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name" validate:"required"`
	Grade     string    `json:"grade"`
	Group     string    `json:"group"`
	Guardian  string    `json:"guardian"`
	BAP       bool      `json:"bap"`   // identified barriers to learning
	USAER     bool      `json:"usaer"` // receives special-education support
	CreatedAt time.Time `json:"created_at"`
}

// StudentView combines a student with their assignment progress.
type StudentView struct {
	Student  Student  `json:"student"`
	Progress Progress `json:"progress"`
}

// MessageChannel distinguishes who a message is addressed to.
type MessageChannel string

const (
	ChannelTeacher MessageChannel = "teacher"
	ChannelParent  MessageChannel = "parent"
)

// Message is a portal message tied to a student.
type Message struct {
	ID        int64          `json:"id"`
	StudentID int64          `json:"student_id"`
	Sender    string         `json:"sender"`
	Channel   MessageChannel `json:"channel"`
	Content   string         `json:"content" validate:"required,max=4000"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notification is a school-wide (StudentID nil) or per-student notice.
type Notification struct {
	ID        int64     `json:"id"`
	StudentID *int64    `json:"student_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Event is a school calendar entry.
type Event struct {
	ID          int64  `json:"id"`
	Title       string `json:"title" validate:"required"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Description string `json:"description"`
}

// BehaviorLog is a conduct note recorded for a student.
type BehaviorLog struct {
	ID        int64     `json:"id"`
	StudentID int64     `json:"student_id"`
	Kind      string    `json:"kind" validate:"required,oneof=positive negative note"`
	Note      string    `json:"note" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// PortalFeed is what a parent's client re-fetches on every poll.
type PortalFeed struct {
	Messages            []Message      `json:"messages"`
	Notifications       []Notification `json:"notifications"`
	PollIntervalSeconds int            `json:"poll_interval_seconds"`
}
