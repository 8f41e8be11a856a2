package laboratory

import (
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderOther   Gender = "other"
	GenderUnknown Gender = "unknown"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther, GenderUnknown:
		return true
	}
	return false
}

type SampleStatus string

const (
	SampleReceived   SampleStatus = "received"
	SampleInProgress SampleStatus = "in_progress"
	SampleCompleted  SampleStatus = "completed"
	SampleRejected   SampleStatus = "rejected"
	SampleCancelled  SampleStatus = "cancelled"
)

// SampleStatuses lists every sample status in lifecycle order.
var SampleStatuses = []SampleStatus{SampleReceived, SampleInProgress, SampleCompleted, SampleRejected, SampleCancelled}

func (s SampleStatus) Valid() bool {
	for _, v := range SampleStatuses {
		if s == v {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityRoutine  Priority = "routine"
	PriorityUrgent   Priority = "urgent"
	PriorityStat     Priority = "stat"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityRoutine, PriorityUrgent, PriorityStat, PriorityCritical:
		return true
	}
	return false
}

type TestStatus string

const (
	TestPending    TestStatus = "pending"
	TestInProgress TestStatus = "in_progress"
	TestCompleted  TestStatus = "completed"
	TestFailed     TestStatus = "failed"
	TestCancelled  TestStatus = "cancelled"
)

func (s TestStatus) Valid() bool {
	switch s {
	case TestPending, TestInProgress, TestCompleted, TestFailed, TestCancelled:
		return true
	}
	return false
}

// Flag marks a result relative to its reference range.
type Flag string

const (
	FlagHigh     Flag = "H"
	FlagLow      Flag = "L"
	FlagNormal   Flag = "N"
	FlagAbnormal Flag = "A"
)

func (f Flag) Valid() bool {
	switch f {
	case FlagHigh, FlagLow, FlagNormal, FlagAbnormal:
		return true
	}
	return false
}

// Patient maps to the patients table. PatientID is the human-readable
// business key; ID is internal.
type Patient struct {
	ID                 uuid.UUID `json:"id"`
	PatientID          string    `json:"patientId"`
	FirstName          string    `json:"firstName"`
	LastName           string    `json:"lastName"`
	DateOfBirth        string    `json:"dateOfBirth"`
	Gender             Gender    `json:"gender"`
	Phone              *string   `json:"phone,omitempty"`
	Email              *string   `json:"email,omitempty"`
	Address            *string   `json:"address,omitempty"`
	EmergencyContact   *string   `json:"emergencyContact,omitempty"`
	InsuranceNumber    *string   `json:"insuranceNumber,omitempty"`
	MedicalHistory     *string   `json:"medicalHistory,omitempty"`
	Allergies          *string   `json:"allergies,omitempty"`
	CurrentMedications *string   `json:"currentMedications,omitempty"`
	IsFasting          bool      `json:"isFasting"`
	IsPregnant         bool      `json:"isPregnant"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Sample maps to the samples table. Patient is populated on reads that
// join the owning patient.
type Sample struct {
	ID                 uuid.UUID    `json:"id"`
	SampleID           string       `json:"sampleId"`
	Barcode            *string      `json:"barcode,omitempty"`
	PatientID          uuid.UUID    `json:"patientId"`
	CollectedBy        *uuid.UUID   `json:"collectedBy,omitempty"`
	SampleType         string       `json:"sampleType"`
	ContainerType      *string      `json:"containerType,omitempty"`
	Volume             *string      `json:"volume,omitempty"`
	Status             SampleStatus `json:"status"`
	Priority           Priority     `json:"priority"`
	CollectionDateTime time.Time    `json:"collectionDateTime"`
	ReceivedDateTime   time.Time    `json:"receivedDateTime"`
	StorageLocation    *string      `json:"storageLocation,omitempty"`
	Notes              *string      `json:"notes,omitempty"`
	RejectionReason    *string      `json:"rejectionReason,omitempty"`
	Version            int          `json:"version"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
	Patient            *Patient     `json:"patient,omitempty"`
}

// SampleStatusChange is one row of a sample's status history.
type SampleStatusChange struct {
	ID         uuid.UUID     `json:"id"`
	SampleID   uuid.UUID     `json:"sampleId"`
	FromStatus *SampleStatus `json:"fromStatus,omitempty"`
	ToStatus   SampleStatus  `json:"toStatus"`
	ChangedBy  *uuid.UUID    `json:"changedBy,omitempty"`
	Reason     *string       `json:"reason,omitempty"`
	ChangedAt  time.Time     `json:"changedAt"`
}

// TestType is a catalog entry describing an orderable test.
type TestType struct {
	ID              uuid.UUID `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	SampleType      string    `json:"sampleType"`
	Unit            *string   `json:"unit,omitempty"`
	ReferenceMin    *float64  `json:"referenceMin,omitempty"`
	ReferenceMax    *float64  `json:"referenceMax,omitempty"`
	ReferenceText   *string   `json:"referenceText,omitempty"`
	Price           float64   `json:"price"`
	TurnaroundHours int       `json:"turnaroundHours"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TestRequest asks for one TestType to be run against one Sample.
type TestRequest struct {
	ID          uuid.UUID  `json:"id"`
	SampleID    uuid.UUID  `json:"sampleId"`
	TestTypeID  uuid.UUID  `json:"testTypeId"`
	Status      TestStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	RequestedBy *uuid.UUID `json:"requestedBy,omitempty"`
	AssignedTo  *uuid.UUID `json:"assignedTo,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	RequestedAt time.Time  `json:"requestedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TestResult is one measured parameter of a TestRequest.
type TestResult struct {
	ID             uuid.UUID  `json:"id"`
	TestRequestID  uuid.UUID  `json:"testRequestId"`
	ParameterName  string     `json:"parameterName"`
	Value          string     `json:"value"`
	Unit           *string    `json:"unit,omitempty"`
	ReferenceRange *string    `json:"referenceRange,omitempty"`
	Flag           Flag       `json:"flag"`
	Comments       *string    `json:"comments,omitempty"`
	EnteredBy      *uuid.UUID `json:"enteredBy,omitempty"`
	EnteredAt      time.Time  `json:"enteredAt"`
	VerifiedBy     *uuid.UUID `json:"verifiedBy,omitempty"`
	VerifiedAt     *time.Time `json:"verifiedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// QualityControl is a control run against a test type and lot. Passed is
// derived, never taken from input.
type QualityControl struct {
	ID            uuid.UUID  `json:"id"`
	TestTypeID    uuid.UUID  `json:"testTypeId"`
	ControlLevel  string     `json:"controlLevel"`
	LotNumber     string     `json:"lotNumber"`
	ExpectedValue float64    `json:"expectedValue"`
	ActualValue   float64    `json:"actualValue"`
	Tolerance     float64    `json:"tolerance"`
	Passed        bool       `json:"passed"`
	Notes         *string    `json:"notes,omitempty"`
	RunBy         *uuid.UUID `json:"runBy,omitempty"`
	RunAt         time.Time  `json:"runAt"`
}

// DashboardStats are independent point-in-time counts.
type DashboardStats struct {
	DailySamples int `json:"dailySamples"`
	ResultsReady int `json:"resultsReady"`
	PendingTests int `json:"pendingTests"`
	ActiveUsers  int `json:"activeUsers"`
}

// SampleFilter narrows sample listings.
type SampleFilter struct {
	Status    SampleStatus
	PatientID *uuid.UUID
}

// TestRequestFilter narrows test request listings.
type TestRequestFilter struct {
	Status   TestStatus
	SampleID *uuid.UUID
}
