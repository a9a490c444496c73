package checks

import (
	"time"

	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/fingerprint"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Batch is the header of one bulk submission. RecordCount is fixed at submission.
type Batch struct {
	ID             string           `json:"id" gorm:"primaryKey;column:id;size:36"`
	Type           models.CheckType `json:"type" gorm:"column:type;size:32;not null"`
	Filename       string           `json:"filename,omitempty" gorm:"column:filename;size:255"`
	SubmittedAt    time.Time        `json:"submitted_at" gorm:"column:submitted_at;not null;index"`
	SubmittedBy    string           `json:"submitted_by" gorm:"column:submitted_by;size:255"`
	OrganizationID *string          `json:"organization_id,omitempty" gorm:"column:organization_id;size:64;index"`
	RecordCount    int              `json:"record_count" gorm:"column:record_count;not null"`
	DeletedAt      *time.Time       `json:"deleted_at,omitempty" gorm:"column:deleted_at"`
}

func (Batch) TableName() string {
	return "bulk_checks"
}

type Record struct {
	ID              string             `json:"id" gorm:"primaryKey;column:id;size:36"`
	Type            models.CheckType   `json:"type" gorm:"column:type;size:32;not null"`
	Status          models.CheckStatus `json:"status" gorm:"column:status;size:32;not null;index"`
	FingerprintHash string             `json:"-" gorm:"column:fingerprint_hash;size:64;not null;index"`
	BatchID         *string            `json:"batch_id,omitempty" gorm:"column:batch_id;size:36;index"`
	Batch           *Batch             `json:"-" gorm:"foreignKey:BatchID;references:ID;constraint:OnDelete:CASCADE"`
	RowNumber       int                `json:"row_number,omitempty" gorm:"column:row_num"`
	OrganizationID  *string            `json:"organization_id,omitempty" gorm:"column:organization_id;size:64"`

	LastName                          string `json:"last_name" gorm:"column:last_name;size:100"`
	DateOfBirth                       string `json:"date_of_birth" gorm:"column:date_of_birth;size:10"`
	NationalInsuranceNumber           string `json:"national_insurance_number,omitempty" gorm:"column:ni_number;size:16"`
	NationalAsylumSeekerServiceNumber string `json:"nass_number,omitempty" gorm:"column:nass_number;size:16"`
	EligibilityCode                   string `json:"eligibility_code,omitempty" gorm:"column:eligibility_code;size:16"`
	ValidityStartDate                 string `json:"validity_start_date,omitempty" gorm:"column:validity_start_date;size:10"`
	ValidityEndDate                   string `json:"validity_end_date,omitempty" gorm:"column:validity_end_date;size:10"`
	GracePeriodEndDate                string `json:"grace_period_end_date,omitempty" gorm:"column:grace_period_end_date;size:10"`
	SubmissionDate                    string `json:"submission_date,omitempty" gorm:"column:submission_date;size:10"`

	Outcome   datatypes.JSONMap `json:"outcome,omitempty" gorm:"column:outcome"`
	Error     string            `json:"error,omitempty" gorm:"column:error"`
	CreatedAt time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (Record) TableName() string {
	return "eligibility_checks"
}

func (r *Record) Subject() models.Subject {
	return models.Subject{
		LastName:                          r.LastName,
		DateOfBirth:                       r.DateOfBirth,
		NationalInsuranceNumber:           r.NationalInsuranceNumber,
		NationalAsylumSeekerServiceNumber: r.NationalAsylumSeekerServiceNumber,
		EligibilityCode:                   r.EligibilityCode,
		ValidityStartDate:                 r.ValidityStartDate,
		ValidityEndDate:                   r.ValidityEndDate,
		GracePeriodEndDate:                r.GracePeriodEndDate,
		SubmissionDate:                    r.SubmissionDate,
	}
}

// NewQueuedRecord builds a fresh queued record from an already normalised subject.
func NewQueuedRecord(checkType models.CheckType, subject models.Subject, organizationID *string) *Record {
	rec := &Record{
		ID:              uuid.New().String(),
		Type:            checkType,
		Status:          models.StatusQueued,
		FingerprintHash: fingerprint.Compute(checkType, subject),
		OrganizationID:  organizationID,
	}
	rec.setSubject(subject)
	return rec
}

func (r *Record) setSubject(s models.Subject) {
	r.LastName = s.LastName
	r.DateOfBirth = s.DateOfBirth
	r.NationalInsuranceNumber = s.NationalInsuranceNumber
	r.NationalAsylumSeekerServiceNumber = s.NationalAsylumSeekerServiceNumber
	r.EligibilityCode = s.EligibilityCode
	r.ValidityStartDate = s.ValidityStartDate
	r.ValidityEndDate = s.ValidityEndDate
	r.GracePeriodEndDate = s.GracePeriodEndDate
	r.SubmissionDate = s.SubmissionDate
}

func (r *Record) Detail() models.CheckDetail {
	d := models.CheckDetail{
		ID:        r.ID,
		Type:      r.Type,
		Status:    r.Status,
		Subject:   r.Subject(),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.BatchID != nil {
		d.BatchID = *r.BatchID
	}
	if r.Outcome != nil {
		d.Outcome = map[string]interface{}(r.Outcome)
	}
	return d
}

func (r *Record) OutcomeRow() models.CheckOutcome {
	o := models.CheckOutcome{
		ID:        r.ID,
		RowNumber: r.RowNumber,
		Type:      r.Type,
		Status:    r.Status,
		Subject:   r.Subject(),
	}
	if r.Outcome != nil {
		o.Outcome = map[string]interface{}(r.Outcome)
	}
	return o
}
