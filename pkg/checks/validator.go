package checks

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/checkeligibility/platform/pkg/common/models"
	"github.com/checkeligibility/platform/pkg/fingerprint"
)

const maxLastNameLength = 100

var (
	lastNamePattern        = regexp.MustCompile(`^\p{L}[\p{L}' .\-]*$`)
	niNumberPattern        = regexp.MustCompile(`^[A-CEGHJ-PR-TW-Z][A-CEGHJ-NPR-TW-Z][0-9]{6}[A-D]$`)
	nassNumberPattern      = regexp.MustCompile(`^[0-9]{2}(0[1-9]|1[0-2])[0-9]{5,6}$`)
	eligibilityCodePattern = regexp.MustCompile(`^[0-9]{11}$`)
)

var disallowedNIPrefixes = map[string]struct{}{
	"BG": {}, "GB": {}, "NK": {}, "KN": {}, "TN": {}, "NT": {}, "ZZ": {},
}

type Validator struct {
	nowFunc func() time.Time
}

func NewValidator() *Validator {
	return &Validator{nowFunc: time.Now}
}

// Validate returns one message per problem; an empty slice means the subject is acceptable.
// The subject is expected to be normalised already.
func (v *Validator) Validate(checkType models.CheckType, s models.Subject) []string {
	var problems []string

	switch {
	case s.LastName == "":
		problems = append(problems, "last name is required")
	case len(s.LastName) > maxLastNameLength:
		problems = append(problems, fmt.Sprintf("last name must be at most %d characters", maxLastNameLength))
	case !lastNamePattern.MatchString(s.LastName):
		problems = append(problems, "last name contains invalid characters")
	}

	problems = append(problems, v.validateDateOfBirth(s.DateOfBirth)...)

	if checkType == models.WorkingFamilies {
		problems = append(problems, validateWorkingFamilies(s)...)
		return problems
	}

	switch {
	case s.NationalInsuranceNumber != "":
		if !validNINumber(s.NationalInsuranceNumber) {
			problems = append(problems, "national insurance number is invalid")
		}
	case s.NationalAsylumSeekerServiceNumber != "":
		if !nassNumberPattern.MatchString(s.NationalAsylumSeekerServiceNumber) {
			problems = append(problems, "asylum support number is invalid")
		}
	default:
		problems = append(problems, "national insurance number or asylum support number is required")
	}
	return problems
}

func (v *Validator) validateDateOfBirth(raw string) []string {
	if raw == "" {
		return []string{"date of birth is required"}
	}
	dob, ok := fingerprint.ParseDate(raw)
	if !ok {
		return []string{"date of birth must be a valid date"}
	}
	if dob.After(v.nowFunc().UTC()) {
		return []string{"date of birth cannot be in the future"}
	}
	return nil
}

func validateWorkingFamilies(s models.Subject) []string {
	var problems []string
	switch {
	case s.EligibilityCode == "":
		problems = append(problems, "eligibility code is required")
	case !eligibilityCodePattern.MatchString(s.EligibilityCode):
		problems = append(problems, "eligibility code must be 11 digits")
	}
	switch {
	case s.NationalInsuranceNumber == "":
		problems = append(problems, "national insurance number is required")
	case !validNINumber(s.NationalInsuranceNumber):
		problems = append(problems, "national insurance number is invalid")
	}

	dates := []struct{ name, value string }{
		{"validity start date", s.ValidityStartDate},
		{"validity end date", s.ValidityEndDate},
		{"grace period end date", s.GracePeriodEndDate},
		{"submission date", s.SubmissionDate},
	}
	for _, d := range dates {
		if d.value == "" {
			continue
		}
		if _, ok := fingerprint.ParseDate(d.value); !ok {
			problems = append(problems, d.name+" must be a valid date")
		}
	}
	if s.ValidityStartDate != "" && s.ValidityEndDate != "" && s.ValidityEndDate < s.ValidityStartDate {
		problems = append(problems, "validity end date is before validity start date")
	}
	return problems
}

func validNINumber(ni string) bool {
	ni = strings.ToUpper(ni)
	if !niNumberPattern.MatchString(ni) {
		return false
	}
	_, banned := disallowedNIPrefixes[ni[:2]]
	return !banned
}
