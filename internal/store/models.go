package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	VerificationStatus    string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Sheet is a test-case collection (kind "sheet") or a checklist.
type Sheet struct {
	ID          string
	Kind        string
	Title       string
	Description string
	OwnerID     string
	Visibility  string
	ArchivedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership is an explicit role grant on a sheet. Owner is never stored as
// a membership row; it is computed from the sheet's owner field.
type Membership struct {
	SheetID   string
	UserID    string
	Role      string
	GrantedBy string
	GrantedAt time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

type AccessRequest struct {
	ID            string
	SheetID       string
	RequesterID   string
	RequestedRole string
	// GrantedRole is set at resolution and may differ from RequestedRole;
	// both are kept so resolver discretion leaves a trail.
	GrantedRole string
	Message     string
	Status      string
	ResolvedBy  string
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	// Joined fields for API responses
	RequesterName  string
	RequesterEmail string
}

type TestCase struct {
	ID             string
	SheetID        string
	Title          string
	Steps          string
	Expected       string
	WorkflowStatus string
	// ExecutionStatus is the independent pass/fail axis; workflow
	// transitions never write it.
	ExecutionStatus string
	AssigneeID      string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ActivityLogEntry struct {
	ID         int64
	TestCaseID string
	Action     string
	UserID     string
	Details    string
	CreatedAt  time.Time
	// Joined field for API responses
	UserName string
}

type SupportThread struct {
	ID        string
	AuthorID  string
	Subject   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Joined fields for API responses
	AuthorName   string
	MessageCount int
}

type SupportMessage struct {
	ID        string
	ThreadID  string
	AuthorID  string
	Body      string
	CreatedAt time.Time
	// Joined field for API responses
	AuthorName string
}

type ViewRecord struct {
	MessageID string
	ViewerID  string
	ViewedAt  time.Time
}

type BugReport struct {
	ID            string
	TestCaseID    string
	ReporterID    string
	Title         string
	Description   string
	Severity      string
	AttachmentKey string
	CreatedAt     time.Time
}
