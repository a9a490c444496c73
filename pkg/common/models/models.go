package models

import (
	"strings"
	"time"
)

type CheckType string

const (
	FreeSchoolMeals       CheckType = "FreeSchoolMeals"
	TwoYearOffer          CheckType = "TwoYearOffer"
	EarlyYearPupilPremium CheckType = "EarlyYearPupilPremium"
	WorkingFamilies       CheckType = "WorkingFamilies"
)

var checkTypeAliases = map[string]CheckType{
	"freeschoolmeals":          FreeSchoolMeals,
	"free-school-meals":        FreeSchoolMeals,
	"fsm":                      FreeSchoolMeals,
	"twoyearoffer":             TwoYearOffer,
	"two-year-offer":           TwoYearOffer,
	"2yo":                      TwoYearOffer,
	"earlyyearpupilpremium":    EarlyYearPupilPremium,
	"early-year-pupil-premium": EarlyYearPupilPremium,
	"eypp":                     EarlyYearPupilPremium,
	"workingfamilies":          WorkingFamilies,
	"working-families":         WorkingFamilies,
	"wf":                       WorkingFamilies,
}

// ParseCheckType accepts the canonical names plus the kebab-case path forms.
func ParseCheckType(raw string) (CheckType, bool) {
	t, ok := checkTypeAliases[strings.ToLower(strings.TrimSpace(raw))]
	return t, ok
}

func CheckTypes() []CheckType {
	return []CheckType{FreeSchoolMeals, TwoYearOffer, EarlyYearPupilPremium, WorkingFamilies}
}

type CheckStatus string

const (
	StatusQueued         CheckStatus = "queued"
	StatusProcessing     CheckStatus = "processing"
	StatusEligible       CheckStatus = "eligible"
	StatusNotEligible    CheckStatus = "notEligible"
	StatusParentNotFound CheckStatus = "parentNotFound"
	StatusError          CheckStatus = "error"
	StatusNotFound       CheckStatus = "notFound"
	StatusDeleted        CheckStatus = "deleted"
)

// IsTerminal reports whether no further automatic transition happens from s.
func (s CheckStatus) IsTerminal() bool {
	switch s {
	case StatusQueued, StatusProcessing:
		return false
	default:
		return true
	}
}

// IsOutcome reports whether s is a terminal state a determination can produce.
func (s CheckStatus) IsOutcome() bool {
	switch s {
	case StatusEligible, StatusNotEligible, StatusParentNotFound, StatusError, StatusNotFound:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists every status counted as complete by batch progress.
func TerminalStatuses() []CheckStatus {
	return []CheckStatus{
		StatusEligible,
		StatusNotEligible,
		StatusParentNotFound,
		StatusError,
		StatusNotFound,
		StatusDeleted,
	}
}

// Subject carries the identity fields of one check. Dates use 2006-01-02.
type Subject struct {
	LastName                          string `json:"last_name"`
	DateOfBirth                       string `json:"date_of_birth"`
	NationalInsuranceNumber           string `json:"national_insurance_number,omitempty"`
	NationalAsylumSeekerServiceNumber string `json:"nass_number,omitempty"`
	EligibilityCode                   string `json:"eligibility_code,omitempty"`
	ValidityStartDate                 string `json:"validity_start_date,omitempty"`
	ValidityEndDate                   string `json:"validity_end_date,omitempty"`
	GracePeriodEndDate                string `json:"grace_period_end_date,omitempty"`
	SubmissionDate                    string `json:"submission_date,omitempty"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // audit.transition, audit.admission, check.requeue
	Source    string                 `json:"source"`
	Subject   string                 `json:"subject,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

type CheckLinks struct {
	GetCheck string `json:"get_check,omitempty"`
}

type CheckResponse struct {
	ID     string      `json:"id"`
	Type   CheckType   `json:"type"`
	Status CheckStatus `json:"status"`
	Links  CheckLinks  `json:"links"`
}

type CheckDetail struct {
	ID        string                 `json:"id"`
	Type      CheckType              `json:"type"`
	Status    CheckStatus            `json:"status"`
	BatchID   string                 `json:"batch_id,omitempty"`
	Subject   Subject                `json:"subject"`
	Outcome   map[string]interface{} `json:"outcome,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type BatchLinks struct {
	GetProgress string `json:"get_progress"`
	GetResults  string `json:"get_results"`
}

type BatchSubmission struct {
	ID          string     `json:"id"`
	RecordCount int        `json:"record_count"`
	Links       BatchLinks `json:"links"`
}

type BatchProgress struct {
	Total    int `json:"total"`
	Complete int `json:"complete"`
}

const (
	BatchInProgress = "inProgress"
	BatchCompleted  = "completed"
)

type BatchSummary struct {
	ID             string    `json:"id"`
	Type           CheckType `json:"type"`
	Filename       string    `json:"filename,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	SubmittedBy    string    `json:"submitted_by"`
	OrganizationID string    `json:"organization_id,omitempty"`
	RecordCount    int       `json:"record_count"`
	Complete       int       `json:"complete"`
	Status         string    `json:"status"`
}

type CheckOutcome struct {
	ID        string                 `json:"id"`
	RowNumber int                    `json:"row_number"`
	Type      CheckType              `json:"type"`
	Status    CheckStatus            `json:"status"`
	Subject   Subject                `json:"subject"`
	Outcome   map[string]interface{} `json:"outcome,omitempty"`
}

type ErrorResponse struct {
	Errors []string `json:"errors"`
}
