package models

import "time"

// ReportStatus is the lifecycle state of a report.
type ReportStatus string

const (
	StatusNew          ReportStatus = "New"
	StatusAcknowledged ReportStatus = "Acknowledged"
	StatusResolved     ReportStatus = "Resolved"
)

// transitions is the closed set of allowed status transitions.
// Resolved is terminal.
var transitions = map[ReportStatus]ReportStatus{
	StatusNew:          StatusAcknowledged,
	StatusAcknowledged: StatusResolved,
}

// CanTransition reports whether from -> to is an allowed lifecycle step.
func CanTransition(from, to ReportStatus) bool {
	next, ok := transitions[from]
	return ok && next == to
}

// IsValidStatus reports whether s is one of the known statuses.
func IsValidStatus(s ReportStatus) bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// Report is a wildlife incident report record.
type Report struct {
	ID                 int64        `json:"id"`
	Latitude           float64      `json:"latitude"`
	Longitude          float64      `json:"longitude"`
	AnimalType         string       `json:"animal_type"`
	Condition          string       `json:"condition"`
	Description        string       `json:"description,omitempty"`
	ReporterEmail      string       `json:"reporter_email"`
	ImageRef           string       `json:"image_ref,omitempty"`
	Status             ReportStatus `json:"status"`
	ResponderID        *int64       `json:"responder_id,omitempty"`
	AISuggestion       string       `json:"ai_suggestion,omitempty"`
	ResolutionNotes    string       `json:"resolution_notes,omitempty"`
	ResolutionImageRef string       `json:"resolution_image_ref,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// ReportProjection is the public view of a report, safe to broadcast to
// dashboards. It omits the reporter's contact address.
type ReportProjection struct {
	ID                 int64        `json:"id"`
	Latitude           float64      `json:"latitude"`
	Longitude          float64      `json:"longitude"`
	AnimalType         string       `json:"animal_type"`
	Condition          string       `json:"condition"`
	Description        string       `json:"description,omitempty"`
	ImageRef           string       `json:"image_ref,omitempty"`
	Status             ReportStatus `json:"status"`
	ResponderID        *int64       `json:"responder_id,omitempty"`
	AISuggestion       string       `json:"ai_suggestion,omitempty"`
	ResolutionNotes    string       `json:"resolution_notes,omitempty"`
	ResolutionImageRef string       `json:"resolution_image_ref,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// Projection returns the public view of the report.
func (r *Report) Projection() ReportProjection {
	return ReportProjection{
		ID:                 r.ID,
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		AnimalType:         r.AnimalType,
		Condition:          r.Condition,
		Description:        r.Description,
		ImageRef:           r.ImageRef,
		Status:             r.Status,
		ResponderID:        r.ResponderID,
		AISuggestion:       r.AISuggestion,
		ResolutionNotes:    r.ResolutionNotes,
		ResolutionImageRef: r.ResolutionImageRef,
		CreatedAt:          r.CreatedAt,
	}
}

// ReportFilter narrows ListReports results.
type ReportFilter struct {
	Status *ReportStatus
	From   *time.Time
	To     *time.Time
}

// Lifecycle event types pushed to live subscribers.
const (
	EventReportCreated  = "report_created"
	EventReportClaimed  = "report_claimed"
	EventReportResolved = "report_resolved"
)

// LifecycleEvent is the envelope broadcast for every report state change.
type LifecycleEvent struct {
	Type      string           `json:"type"`
	Report    ReportProjection `json:"report"`
	Timestamp time.Time        `json:"timestamp"`
}

// User is a registered responder or admin identity.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// User roles.
const (
	RoleAdmin     = "admin"
	RoleResponder = "responder"
)

// RegisterRequest is the request to create a new responder account.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,max=80"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest is the authentication request.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse carries an issued access token.
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	User      *User  `json:"user,omitempty"`
}

// AnalyticsSummary aggregates report counts for the admin dashboard.
type AnalyticsSummary struct {
	TotalReports   int            `json:"total_reports"`
	TotalUsers     int            `json:"total_users"`
	CountsByStatus map[string]int `json:"counts_by_status"`
	CountsByAnimal []AnimalCount  `json:"counts_by_animal"`
}

// AnimalCount is one row of the reports-per-animal aggregation.
type AnimalCount struct {
	AnimalType string `json:"animal_type"`
	Count      int    `json:"count"`
}
