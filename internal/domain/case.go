package domain

import (
	"slices"
	"strings"
	"time"
)

type CaseType string

const (
	CaseTypeCriminal CaseType = "criminal"
	CaseTypeCivil    CaseType = "civil"
)

var validCaseTypes = []CaseType{CaseTypeCriminal, CaseTypeCivil}

// maxJurisdictionLen bounds free-text jurisdiction labels.
const maxJurisdictionLen = 200

type Case struct {
	ID           string
	OrgID        string
	Title        string
	Jurisdiction string
	CaseType     CaseType
	Status       CaseStatus
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CaseInput struct {
	ID           string
	OrgID        string
	Title        string
	Jurisdiction string
	CaseType     CaseType
	CreatedBy    string
}

// NewCase validates input and returns a case in the created status.
func NewCase(in CaseInput, now time.Time) (Case, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.OrgID = strings.TrimSpace(in.OrgID)
	in.Title = strings.TrimSpace(in.Title)
	in.Jurisdiction = strings.TrimSpace(in.Jurisdiction)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.CaseType = CaseType(strings.TrimSpace(strings.ToLower(string(in.CaseType))))

	if in.ID == "" || in.OrgID == "" {
		return Case{}, ErrInvalidID
	}
	if in.Title == "" {
		return Case{}, ErrInvalidTitle
	}
	if len(in.Jurisdiction) > maxJurisdictionLen {
		return Case{}, ErrInvalidJurisdiction
	}
	if !slices.Contains(validCaseTypes, in.CaseType) {
		return Case{}, ErrInvalidCaseType
	}

	return Case{
		ID:           in.ID,
		OrgID:        in.OrgID,
		Title:        in.Title,
		Jurisdiction: in.Jurisdiction,
		CaseType:     in.CaseType,
		Status:       StatusCreated,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// UpdateDetails replaces the editable descriptive fields. Status is never
// touched here; it only moves through Lifecycle operations.
func (c *Case) UpdateDetails(title, jurisdiction string, now time.Time) error {
	title = strings.TrimSpace(title)
	jurisdiction = strings.TrimSpace(jurisdiction)
	if title == "" {
		return ErrInvalidTitle
	}
	if len(jurisdiction) > maxJurisdictionLen {
		return ErrInvalidJurisdiction
	}
	c.Title = title
	c.Jurisdiction = jurisdiction
	c.UpdatedAt = now.UTC()
	return nil
}

// ParseCaseType canonicalizes one case type value.
func ParseCaseType(raw string) (CaseType, error) {
	caseType := CaseType(strings.TrimSpace(strings.ToLower(raw)))
	if !slices.Contains(validCaseTypes, caseType) {
		return "", ErrInvalidCaseType
	}
	return caseType, nil
}
