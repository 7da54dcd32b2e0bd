package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/courtroom/internal/domain"
)

// Pagination defaults for case listings.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// defaultEventLimit bounds one case event listing when callers pass 0.
const defaultEventLimit = 50

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	DefaultOrgID string
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service runs case use cases against the persistence collaborator. Callers
// are expected to be authorized before reaching it.
type Service struct {
	repo         Repository
	idGen        IDGenerator
	clock        Clock
	defaultOrgID string
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	cfg.DefaultOrgID = strings.TrimSpace(cfg.DefaultOrgID)
	if cfg.DefaultOrgID == "" {
		cfg.DefaultOrgID = "default"
	}
	return &Service{
		repo:         repo,
		idGen:        idGen,
		clock:        clock,
		defaultOrgID: cfg.DefaultOrgID,
	}
}

// CreateCaseInput holds input values for create case operations.
type CreateCaseInput struct {
	Title        string
	Jurisdiction string
	CaseType     string
}

// CreateCase validates input and stores a new case in the created status.
func (s *Service) CreateCase(ctx context.Context, in CreateCaseInput) (domain.Case, error) {
	caller, _ := CallerFromContext(ctx)

	verr := &ValidationError{}
	if strings.TrimSpace(in.Title) == "" {
		verr.Add("title", "must not be empty")
	}
	caseType, err := domain.ParseCaseType(in.CaseType)
	if err != nil {
		verr.Add("case_type", "must be one of criminal, civil")
	}
	if err := validateJurisdiction(in.Jurisdiction); err != nil {
		verr.Add("jurisdiction", err.Error())
	}
	if err := verr.OrNil(); err != nil {
		return domain.Case{}, err
	}

	c, err := domain.NewCase(domain.CaseInput{
		ID:           s.idGen(),
		OrgID:        s.orgFor(caller),
		Title:        in.Title,
		Jurisdiction: in.Jurisdiction,
		CaseType:     caseType,
		CreatedBy:    caller.UserID,
	}, s.clock())
	if err != nil {
		return domain.Case{}, err
	}
	if err := s.repo.CreateCase(ctx, c); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// GetCase loads one case visible to the caller.
func (s *Service) GetCase(ctx context.Context, caseID string) (domain.Case, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return domain.Case{}, ErrNotFound
	}
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	caller, _ := CallerFromContext(ctx)
	if caller.OrgID != "" && c.OrgID != caller.OrgID {
		return domain.Case{}, ErrNotFound
	}
	return c, nil
}

// ListCasesInput holds page selection for case listings.
type ListCasesInput struct {
	Page  int
	Limit int
}

// CasePage is one page of cases plus pagination metadata.
type CasePage struct {
	Cases      []domain.Case
	Page       int
	Limit      int
	Total      int
	HasMore    bool
	NextCursor string
}

// ListCases returns one page of the caller organization's cases.
func (s *Service) ListCases(ctx context.Context, in ListCasesInput) (CasePage, error) {
	verr := &ValidationError{}
	if in.Page == 0 {
		in.Page = 1
	}
	if in.Limit == 0 {
		in.Limit = DefaultPageLimit
	}
	if in.Page < 1 {
		verr.Add("page", "must be >= 1")
	}
	if in.Limit < 1 || in.Limit > MaxPageLimit {
		verr.Add("limit", fmt.Sprintf("must be between 1 and %d", MaxPageLimit))
	}
	if err := verr.OrNil(); err != nil {
		return CasePage{}, err
	}

	caller, _ := CallerFromContext(ctx)
	offset := (in.Page - 1) * in.Limit
	cases, total, err := s.repo.ListCases(ctx, ListCasesFilter{
		OrgID:  caller.OrgID,
		Offset: offset,
		Limit:  in.Limit,
	})
	if err != nil {
		return CasePage{}, err
	}
	end := offset + in.Limit
	page := CasePage{
		Cases:   cases,
		Page:    in.Page,
		Limit:   in.Limit,
		Total:   total,
		HasMore: end < total,
	}
	if page.HasMore {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// UpdateCaseInput holds optional field replacements for one case.
type UpdateCaseInput struct {
	CaseID       string
	Title        *string
	Jurisdiction *string
	Status       *string
}

// UpdateCase replaces descriptive fields. Status changes are rejected; they
// only happen through TransitionCase.
func (s *Service) UpdateCase(ctx context.Context, in UpdateCaseInput) (domain.Case, error) {
	verr := &ValidationError{}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		verr.Add("title", "must not be empty")
	}
	if in.Jurisdiction != nil {
		if err := validateJurisdiction(*in.Jurisdiction); err != nil {
			verr.Add("jurisdiction", err.Error())
		}
	}
	if in.Status != nil {
		verr.Add("status", "status changes must use a lifecycle operation")
	}
	if err := verr.OrNil(); err != nil {
		return domain.Case{}, err
	}

	c, err := s.GetCase(ctx, in.CaseID)
	if err != nil {
		return domain.Case{}, err
	}
	title, jurisdiction := c.Title, c.Jurisdiction
	if in.Title != nil {
		title = *in.Title
	}
	if in.Jurisdiction != nil {
		jurisdiction = *in.Jurisdiction
	}
	if err := c.UpdateDetails(title, jurisdiction, s.clock()); err != nil {
		return domain.Case{}, err
	}
	if err := s.repo.UpdateCaseDetails(ctx, c); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// DeleteCase removes one case.
func (s *Service) DeleteCase(ctx context.Context, caseID string) error {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	return s.repo.DeleteCase(ctx, c.ID)
}

// ListCaseEvents returns the newest activity entries for one case.
func (s *Service) ListCaseEvents(ctx context.Context, caseID string, limit int) ([]domain.ChangeEvent, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageLimit {
		limit = defaultEventLimit
	}
	return s.repo.ListCaseEvents(ctx, c.ID, limit)
}

// TransitionCase applies one lifecycle operation and persists it with a
// compare-and-swap on the loaded status. Lifecycle conflicts and not-found
// errors are returned unchanged and never retried.
func (s *Service) TransitionCase(ctx context.Context, caseID string, op domain.Operation) (domain.Case, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	prev, err := c.Apply(op, s.clock())
	if err != nil {
		return domain.Case{}, err
	}

	caller, _ := CallerFromContext(ctx)
	event := domain.TransitionEvent(c, op, prev, caller.UserID, caller.Role)
	err = s.repo.UpdateCaseStatus(ctx, c, prev, event)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrStaleStatus) {
		return domain.Case{}, err
	}
	// Another request moved the case first; report the conflict against
	// the status that won.
	fresh, getErr := s.repo.GetCase(ctx, c.ID)
	if getErr != nil {
		return domain.Case{}, getErr
	}
	if _, nextErr := domain.Next(fresh.Status, op); nextErr != nil {
		return domain.Case{}, nextErr
	}
	return domain.Case{}, err
}

// CompleteIntake moves a case from created to pretrial.
func (s *Service) CompleteIntake(ctx context.Context, caseID string) (domain.Case, error) {
	return s.TransitionCase(ctx, caseID, domain.OpCompleteIntake)
}

// StartTrial moves a case from pretrial to trial.
func (s *Service) StartTrial(ctx context.Context, caseID string) (domain.Case, error) {
	return s.TransitionCase(ctx, caseID, domain.OpStartTrial)
}

// orgFor picks the organization new cases are filed under.
func (s *Service) orgFor(caller Caller) string {
	if caller.OrgID != "" {
		return caller.OrgID
	}
	return s.defaultOrgID
}

// validateJurisdiction mirrors the domain length rule for field-level errors.
func validateJurisdiction(raw string) error {
	if len(strings.TrimSpace(raw)) > 200 {
		return errors.New("must be at most 200 characters")
	}
	return nil
}
