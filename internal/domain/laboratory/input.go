package laboratory

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
)

const dateLayout = "2006-01-02"

// PatientInput is the body of a patient registration.
type PatientInput struct {
	PatientID          string  `json:"patientId"`
	FirstName          string  `json:"firstName"`
	LastName           string  `json:"lastName"`
	DateOfBirth        string  `json:"dateOfBirth"`
	Gender             Gender  `json:"gender"`
	Phone              *string `json:"phone"`
	Email              *string `json:"email"`
	Address            *string `json:"address"`
	EmergencyContact   *string `json:"emergencyContact"`
	InsuranceNumber    *string `json:"insuranceNumber"`
	MedicalHistory     *string `json:"medicalHistory"`
	Allergies          *string `json:"allergies"`
	CurrentMedications *string `json:"currentMedications"`
	IsFasting          bool    `json:"isFasting"`
	IsPregnant         bool    `json:"isPregnant"`
}

func (in *PatientInput) normalize() {
	in.PatientID = strings.TrimSpace(in.PatientID)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.DateOfBirth = strings.TrimSpace(in.DateOfBirth)
}

// Validate reports every invalid field at once.
func (in *PatientInput) Validate(now time.Time) error {
	var errs apperror.FieldErrors
	errs.Required("patientId", in.PatientID)
	errs.Required("firstName", in.FirstName)
	errs.Required("lastName", in.LastName)
	validateDOB(&errs, in.DateOfBirth, now)
	if in.Gender == "" {
		errs.Add("gender", "is required")
	} else if !in.Gender.Valid() {
		errs.Add("gender", "must be one of male, female, other, unknown")
	}
	validateEmail(&errs, in.Email)
	return errs.Err()
}

func validateDOB(errs *apperror.FieldErrors, dob string, now time.Time) {
	if dob == "" {
		errs.Add("dateOfBirth", "is required")
		return
	}
	d, err := time.Parse(dateLayout, dob)
	if err != nil {
		errs.Add("dateOfBirth", "must be a date in YYYY-MM-DD format")
		return
	}
	if d.After(now) {
		errs.Add("dateOfBirth", "cannot be in the future")
	}
}

func validateEmail(errs *apperror.FieldErrors, email *string) {
	if email == nil || *email == "" {
		return
	}
	if _, err := mail.ParseAddress(*email); err != nil {
		errs.Add("email", "is not a valid email address")
	}
}

func (in *PatientInput) toPatient() *Patient {
	return &Patient{
		PatientID:          in.PatientID,
		FirstName:          in.FirstName,
		LastName:           in.LastName,
		DateOfBirth:        in.DateOfBirth,
		Gender:             in.Gender,
		Phone:              in.Phone,
		Email:              in.Email,
		Address:            in.Address,
		EmergencyContact:   in.EmergencyContact,
		InsuranceNumber:    in.InsuranceNumber,
		MedicalHistory:     in.MedicalHistory,
		Allergies:          in.Allergies,
		CurrentMedications: in.CurrentMedications,
		IsFasting:          in.IsFasting,
		IsPregnant:         in.IsPregnant,
	}
}

// PatientPatch holds the demographic fields reception may change. The
// business key is immutable.
type PatientPatch struct {
	FirstName          *string `json:"firstName"`
	LastName           *string `json:"lastName"`
	DateOfBirth        *string `json:"dateOfBirth"`
	Gender             *Gender `json:"gender"`
	Phone              *string `json:"phone"`
	Email              *string `json:"email"`
	Address            *string `json:"address"`
	EmergencyContact   *string `json:"emergencyContact"`
	InsuranceNumber    *string `json:"insuranceNumber"`
	MedicalHistory     *string `json:"medicalHistory"`
	Allergies          *string `json:"allergies"`
	CurrentMedications *string `json:"currentMedications"`
	IsFasting          *bool   `json:"isFasting"`
	IsPregnant         *bool   `json:"isPregnant"`
}

func (p *PatientPatch) apply(pt *Patient, now time.Time) error {
	var errs apperror.FieldErrors
	if p.FirstName != nil {
		errs.Required("firstName", *p.FirstName)
		pt.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		errs.Required("lastName", *p.LastName)
		pt.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.DateOfBirth != nil {
		validateDOB(&errs, strings.TrimSpace(*p.DateOfBirth), now)
		pt.DateOfBirth = strings.TrimSpace(*p.DateOfBirth)
	}
	if p.Gender != nil {
		if !p.Gender.Valid() {
			errs.Add("gender", "must be one of male, female, other, unknown")
		}
		pt.Gender = *p.Gender
	}
	validateEmail(&errs, p.Email)
	setIfPresent(&pt.Phone, p.Phone)
	setIfPresent(&pt.Email, p.Email)
	setIfPresent(&pt.Address, p.Address)
	setIfPresent(&pt.EmergencyContact, p.EmergencyContact)
	setIfPresent(&pt.InsuranceNumber, p.InsuranceNumber)
	setIfPresent(&pt.MedicalHistory, p.MedicalHistory)
	setIfPresent(&pt.Allergies, p.Allergies)
	setIfPresent(&pt.CurrentMedications, p.CurrentMedications)
	if p.IsFasting != nil {
		pt.IsFasting = *p.IsFasting
	}
	if p.IsPregnant != nil {
		pt.IsPregnant = *p.IsPregnant
	}
	return errs.Err()
}

// setIfPresent copies an optional string; an explicit empty string clears
// the field.
func setIfPresent(dst **string, src *string) {
	if src == nil {
		return
	}
	if *src == "" {
		*dst = nil
		return
	}
	v := *src
	*dst = &v
}

// SampleInput is the body of a sample collection.
type SampleInput struct {
	SampleID           string       `json:"sampleId"`
	Barcode            *string      `json:"barcode"`
	PatientID          uuid.UUID    `json:"patientId"`
	CollectedBy        *uuid.UUID   `json:"collectedBy"`
	SampleType         string       `json:"sampleType"`
	ContainerType      *string      `json:"containerType"`
	Volume             *string      `json:"volume"`
	Status             SampleStatus `json:"status"`
	Priority           Priority     `json:"priority"`
	CollectionDateTime *time.Time   `json:"collectionDateTime"`
	ReceivedDateTime   *time.Time   `json:"receivedDateTime"`
	StorageLocation    *string      `json:"storageLocation"`
	Notes              *string      `json:"notes"`
}

func (in *SampleInput) Validate(mode TransitionMode) error {
	var errs apperror.FieldErrors
	errs.Required("sampleId", in.SampleID)
	if in.Barcode != nil && strings.TrimSpace(*in.Barcode) == "" {
		// blank barcodes are stored as NULL so they never collide
		in.Barcode = nil
	}
	if in.PatientID == uuid.Nil {
		errs.Add("patientId", "is required")
	}
	errs.Required("sampleType", in.SampleType)
	if in.CollectionDateTime == nil || in.CollectionDateTime.IsZero() {
		errs.Add("collectionDateTime", "is required")
	}
	if in.Status != "" {
		if !in.Status.Valid() {
			errs.Add("status", "must be one of received, in_progress, completed, rejected, cancelled")
		} else if mode == TransitionsStrict && in.Status != SampleReceived {
			errs.Add("status", "new samples start as received")
		}
	}
	if in.Priority != "" && !in.Priority.Valid() {
		errs.Add("priority", "must be one of routine, urgent, stat, critical")
	}
	return errs.Err()
}

// SamplePatch is a partial sample update. Version, when present, must
// match the stored version.
type SamplePatch struct {
	Barcode            *string       `json:"barcode"`
	SampleType         *string       `json:"sampleType"`
	ContainerType      *string       `json:"containerType"`
	Volume             *string       `json:"volume"`
	Status             *SampleStatus `json:"status"`
	Priority           *Priority     `json:"priority"`
	CollectionDateTime *time.Time    `json:"collectionDateTime"`
	ReceivedDateTime   *time.Time    `json:"receivedDateTime"`
	StorageLocation    *string       `json:"storageLocation"`
	Notes              *string       `json:"notes"`
	RejectionReason    *string       `json:"rejectionReason"`
	Version            *int          `json:"version"`
}

// apply copies patch fields onto s and validates the result, including the
// status transition from the stored status.
func (p *SamplePatch) apply(s *Sample, mode TransitionMode) error {
	var errs apperror.FieldErrors
	from := s.Status

	if p.Barcode != nil {
		trimmed := strings.TrimSpace(*p.Barcode)
		setIfPresent(&s.Barcode, &trimmed)
	}
	if p.SampleType != nil {
		errs.Required("sampleType", *p.SampleType)
		s.SampleType = strings.TrimSpace(*p.SampleType)
	}
	setIfPresent(&s.ContainerType, p.ContainerType)
	setIfPresent(&s.Volume, p.Volume)
	setIfPresent(&s.StorageLocation, p.StorageLocation)
	setIfPresent(&s.Notes, p.Notes)
	setIfPresent(&s.RejectionReason, p.RejectionReason)
	if p.Priority != nil {
		if !p.Priority.Valid() {
			errs.Add("priority", "must be one of routine, urgent, stat, critical")
		}
		s.Priority = *p.Priority
	}
	if p.CollectionDateTime != nil {
		if p.CollectionDateTime.IsZero() {
			errs.Add("collectionDateTime", "is required")
		}
		s.CollectionDateTime = *p.CollectionDateTime
	}
	if p.ReceivedDateTime != nil {
		s.ReceivedDateTime = *p.ReceivedDateTime
	}
	if p.Status != nil {
		to := *p.Status
		switch {
		case !to.Valid():
			errs.Add("status", "must be one of received, in_progress, completed, rejected, cancelled")
		case !CanTransitionSample(mode, from, to):
			errs.Add("status", sampleTransitionMessage(from))
		default:
			s.Status = to
		}
	}
	if s.Status == SampleRejected && from != SampleRejected && (s.RejectionReason == nil || strings.TrimSpace(*s.RejectionReason) == "") {
		errs.Add("rejectionReason", "is required when rejecting a sample")
	}
	return errs.Err()
}

// TestTypeInput is the body of a new catalog entry.
type TestTypeInput struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	Category        string   `json:"category"`
	SampleType      string   `json:"sampleType"`
	Unit            *string  `json:"unit"`
	ReferenceMin    *float64 `json:"referenceMin"`
	ReferenceMax    *float64 `json:"referenceMax"`
	ReferenceText   *string  `json:"referenceText"`
	Price           float64  `json:"price"`
	TurnaroundHours int      `json:"turnaroundHours"`
	IsActive        *bool    `json:"isActive"`
}

func (in *TestTypeInput) Validate() error {
	var errs apperror.FieldErrors
	errs.Required("code", in.Code)
	errs.Required("name", in.Name)
	errs.Required("category", in.Category)
	errs.Required("sampleType", in.SampleType)
	validateCatalogNumbers(&errs, in.ReferenceMin, in.ReferenceMax, in.Price, in.TurnaroundHours)
	return errs.Err()
}

func validateCatalogNumbers(errs *apperror.FieldErrors, low, high *float64, price float64, turnaround int) {
	if low != nil && high != nil && *low > *high {
		errs.Add("referenceMax", "must not be below referenceMin")
	}
	if price < 0 {
		errs.Add("price", "must not be negative")
	}
	if turnaround < 0 {
		errs.Add("turnaroundHours", "must not be negative")
	}
}

func (in *TestTypeInput) toTestType() *TestType {
	tt := &TestType{
		Code:            strings.TrimSpace(in.Code),
		Name:            strings.TrimSpace(in.Name),
		Category:        strings.TrimSpace(in.Category),
		SampleType:      strings.TrimSpace(in.SampleType),
		Unit:            in.Unit,
		ReferenceMin:    in.ReferenceMin,
		ReferenceMax:    in.ReferenceMax,
		ReferenceText:   in.ReferenceText,
		Price:           in.Price,
		TurnaroundHours: in.TurnaroundHours,
		IsActive:        true,
	}
	if tt.TurnaroundHours == 0 {
		tt.TurnaroundHours = 24
	}
	if in.IsActive != nil {
		tt.IsActive = *in.IsActive
	}
	return tt
}

// TestTypePatch is a partial catalog update. The code is immutable.
type TestTypePatch struct {
	Name            *string  `json:"name"`
	Category        *string  `json:"category"`
	SampleType      *string  `json:"sampleType"`
	Unit            *string  `json:"unit"`
	ReferenceMin    *float64 `json:"referenceMin"`
	ReferenceMax    *float64 `json:"referenceMax"`
	ReferenceText   *string  `json:"referenceText"`
	Price           *float64 `json:"price"`
	TurnaroundHours *int     `json:"turnaroundHours"`
	IsActive        *bool    `json:"isActive"`
}

func (p *TestTypePatch) apply(tt *TestType) error {
	var errs apperror.FieldErrors
	if p.Name != nil {
		errs.Required("name", *p.Name)
		tt.Name = strings.TrimSpace(*p.Name)
	}
	if p.Category != nil {
		errs.Required("category", *p.Category)
		tt.Category = strings.TrimSpace(*p.Category)
	}
	if p.SampleType != nil {
		errs.Required("sampleType", *p.SampleType)
		tt.SampleType = strings.TrimSpace(*p.SampleType)
	}
	setIfPresent(&tt.Unit, p.Unit)
	setIfPresent(&tt.ReferenceText, p.ReferenceText)
	if p.ReferenceMin != nil {
		tt.ReferenceMin = p.ReferenceMin
	}
	if p.ReferenceMax != nil {
		tt.ReferenceMax = p.ReferenceMax
	}
	if p.Price != nil {
		tt.Price = *p.Price
	}
	if p.TurnaroundHours != nil {
		tt.TurnaroundHours = *p.TurnaroundHours
	}
	if p.IsActive != nil {
		tt.IsActive = *p.IsActive
	}
	validateCatalogNumbers(&errs, tt.ReferenceMin, tt.ReferenceMax, tt.Price, tt.TurnaroundHours)
	return errs.Err()
}

// TestRequestInput orders a test on a sample.
type TestRequestInput struct {
	SampleID   uuid.UUID  `json:"sampleId"`
	TestTypeID uuid.UUID  `json:"testTypeId"`
	Priority   Priority   `json:"priority"`
	AssignedTo *uuid.UUID `json:"assignedTo"`
	Notes      *string    `json:"notes"`
}

func (in *TestRequestInput) Validate() error {
	var errs apperror.FieldErrors
	if in.SampleID == uuid.Nil {
		errs.Add("sampleId", "is required")
	}
	if in.TestTypeID == uuid.Nil {
		errs.Add("testTypeId", "is required")
	}
	if in.Priority != "" && !in.Priority.Valid() {
		errs.Add("priority", "must be one of routine, urgent, stat, critical")
	}
	return errs.Err()
}

// TestRequestStatusUpdate moves a test request through its workflow.
type TestRequestStatusUpdate struct {
	Status     TestStatus `json:"status"`
	AssignedTo *uuid.UUID `json:"assignedTo"`
}

// TestResultInput records one measured parameter.
type TestResultInput struct {
	TestRequestID  uuid.UUID `json:"testRequestId"`
	ParameterName  string    `json:"parameterName"`
	Value          string    `json:"value"`
	Unit           *string   `json:"unit"`
	ReferenceRange *string   `json:"referenceRange"`
	Flag           Flag      `json:"flag"`
	Comments       *string   `json:"comments"`
}

func (in *TestResultInput) Validate() error {
	var errs apperror.FieldErrors
	if in.TestRequestID == uuid.Nil {
		errs.Add("testRequestId", "is required")
	}
	errs.Required("value", in.Value)
	if in.Flag != "" && !in.Flag.Valid() {
		errs.Add("flag", "must be one of H, L, N, A")
	}
	return errs.Err()
}

// QualityControlInput records a control run. Any client-supplied passed
// value is ignored.
type QualityControlInput struct {
	TestTypeID    uuid.UUID `json:"testTypeId"`
	ControlLevel  string    `json:"controlLevel"`
	LotNumber     string    `json:"lotNumber"`
	ExpectedValue *float64  `json:"expectedValue"`
	ActualValue   *float64  `json:"actualValue"`
	Tolerance     *float64  `json:"tolerance"`
	Notes         *string   `json:"notes"`
}

func (in *QualityControlInput) Validate() error {
	var errs apperror.FieldErrors
	if in.TestTypeID == uuid.Nil {
		errs.Add("testTypeId", "is required")
	}
	errs.Required("controlLevel", in.ControlLevel)
	errs.Required("lotNumber", in.LotNumber)
	if in.ExpectedValue == nil {
		errs.Add("expectedValue", "is required")
	}
	if in.ActualValue == nil {
		errs.Add("actualValue", "is required")
	}
	if in.Tolerance == nil {
		errs.Add("tolerance", "is required")
	} else if *in.Tolerance < 0 {
		errs.Add("tolerance", "must not be negative")
	}
	return errs.Err()
}
