// Package fingerprint derives the content hash that keys the determination cache.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/checkeligibility/platform/pkg/common/models"
)

const dateLayout = "2006-01-02"

var acceptedDateLayouts = []string{
	dateLayout,
	"02/01/2006",
	"2006/01/02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

var lineSeparators = strings.NewReplacer("\r\n", "", "\r", "", "\n", "", "\u2028", "", "\u2029", "")

// Normalize upper-cases the identity fields and canonicalises every date to 2006-01-02.
func Normalize(s models.Subject) models.Subject {
	s.LastName = strings.ToUpper(strings.Join(strings.Fields(s.LastName), " "))
	s.NationalInsuranceNumber = compactUpper(s.NationalInsuranceNumber)
	s.NationalAsylumSeekerServiceNumber = compactUpper(s.NationalAsylumSeekerServiceNumber)
	s.EligibilityCode = compactUpper(s.EligibilityCode)
	s.DateOfBirth = CanonicalDate(s.DateOfBirth)
	s.ValidityStartDate = CanonicalDate(s.ValidityStartDate)
	s.ValidityEndDate = CanonicalDate(s.ValidityEndDate)
	s.GracePeriodEndDate = CanonicalDate(s.GracePeriodEndDate)
	s.SubmissionDate = CanonicalDate(s.SubmissionDate)
	return s
}

// IdentityNumber is the NI number when present, otherwise the asylum-service number.
func IdentityNumber(s models.Subject) string {
	if ni := compactUpper(s.NationalInsuranceNumber); ni != "" {
		return ni
	}
	return compactUpper(s.NationalAsylumSeekerServiceNumber)
}

// CanonicalDate returns raw unchanged (trimmed) when it matches no known layout.
func CanonicalDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if t, ok := ParseDate(raw); ok {
		return t.Format(dateLayout)
	}
	return raw
}

func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range acceptedDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func Canonical(checkType models.CheckType, s models.Subject) string {
	n := Normalize(s)
	parts := []string{n.LastName, IdentityNumber(n), n.DateOfBirth, string(checkType)}
	if checkType == models.WorkingFamilies {
		parts = append(parts,
			n.EligibilityCode,
			n.GracePeriodEndDate,
			n.ValidityStartDate,
			n.ValidityEndDate,
			n.SubmissionDate,
		)
	}
	return lineSeparators.Replace(strings.Join(parts, "|"))
}

// Compute returns the lower-case hex SHA-256 of the canonical request.
func Compute(checkType models.CheckType, s models.Subject) string {
	sum := sha256.Sum256([]byte(Canonical(checkType, s)))
	return hex.EncodeToString(sum[:])
}

func compactUpper(v string) string {
	return strings.ToUpper(strings.Join(strings.Fields(v), ""))
}
