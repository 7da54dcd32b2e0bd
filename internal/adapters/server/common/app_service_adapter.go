package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hylla/courtroom/internal/app"
)

// ErrServiceUnavailable reports an adapter built without a service.
var ErrServiceUnavailable = errors.New("case service is not configured")

// AppServiceAdapter maps transport contracts onto app.Service and applies the
// access policy to every call.
type AppServiceAdapter struct {
	service *app.Service
	policy  *app.Policy
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
// A nil policy uses app.DefaultPolicy.
func NewAppServiceAdapter(service *app.Service, policy *app.Policy) *AppServiceAdapter {
	if policy == nil {
		policy = app.DefaultPolicy()
	}
	return &AppServiceAdapter{service: service, policy: policy}
}

// Policy returns the policy the adapter enforces.
func (a *AppServiceAdapter) Policy() *app.Policy {
	return a.policy
}

// CreateCase creates one case.
func (a *AppServiceAdapter) CreateCase(ctx context.Context, in CreateCaseRequest) (CaseView, error) {
	if err := a.authorize(ctx, app.OpCaseCreate); err != nil {
		return CaseView{}, err
	}
	c, err := a.service.CreateCase(ctx, app.CreateCaseInput{
		Title:        in.Title,
		Jurisdiction: in.Jurisdiction,
		CaseType:     in.CaseType,
	})
	if err != nil {
		return CaseView{}, err
	}
	return NewCaseView(c), nil
}

// GetCase loads one case.
func (a *AppServiceAdapter) GetCase(ctx context.Context, id string) (CaseView, error) {
	if err := a.authorize(ctx, app.OpCaseGet); err != nil {
		return CaseView{}, err
	}
	c, err := a.service.GetCase(ctx, id)
	if err != nil {
		return CaseView{}, err
	}
	return NewCaseView(c), nil
}

// ListCases lists one page of cases.
func (a *AppServiceAdapter) ListCases(ctx context.Context, in ListCasesRequest) (CaseList, error) {
	if err := a.authorize(ctx, app.OpCaseList); err != nil {
		return CaseList{}, err
	}
	page, err := a.service.ListCases(ctx, app.ListCasesInput{Page: in.Page, Limit: in.Limit})
	if err != nil {
		return CaseList{}, err
	}
	return newCaseList(page), nil
}

// UpdateCase edits descriptive fields of one case.
func (a *AppServiceAdapter) UpdateCase(ctx context.Context, in UpdateCaseRequest) (CaseView, error) {
	if err := a.authorize(ctx, app.OpCaseUpdate); err != nil {
		return CaseView{}, err
	}
	c, err := a.service.UpdateCase(ctx, app.UpdateCaseInput{
		CaseID:       in.ID,
		Title:        in.Title,
		Jurisdiction: in.Jurisdiction,
		Status:       in.Status,
	})
	if err != nil {
		return CaseView{}, err
	}
	return NewCaseView(c), nil
}

// DeleteCase deletes one case.
func (a *AppServiceAdapter) DeleteCase(ctx context.Context, id string) error {
	if err := a.authorize(ctx, app.OpCaseDelete); err != nil {
		return err
	}
	return a.service.DeleteCase(ctx, id)
}

// ListCaseEvents lists recent activity for one case.
func (a *AppServiceAdapter) ListCaseEvents(ctx context.Context, id string, limit int) ([]CaseEventView, error) {
	if err := a.authorize(ctx, app.OpCaseEvents); err != nil {
		return nil, err
	}
	events, err := a.service.ListCaseEvents(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CaseEventView, 0, len(events))
	for _, event := range events {
		out = append(out, newCaseEventView(event))
	}
	return out, nil
}

// TransitionCase runs one guarded lifecycle operation.
func (a *AppServiceAdapter) TransitionCase(ctx context.Context, id string, op app.OperationID) (CaseView, error) {
	lifecycleOp, ok := app.LifecycleOperation(op)
	if !ok {
		return CaseView{}, fmt.Errorf("transition case: %q is not a lifecycle operation: %w", op, app.ErrInvalidInput)
	}
	if err := a.authorize(ctx, op); err != nil {
		return CaseView{}, err
	}
	c, err := a.service.TransitionCase(ctx, id, lifecycleOp)
	if err != nil {
		return CaseView{}, err
	}
	return NewCaseView(c), nil
}

// authorize checks configuration and the caller's access to op.
func (a *AppServiceAdapter) authorize(ctx context.Context, op app.OperationID) error {
	if a == nil || a.service == nil {
		return ErrServiceUnavailable
	}
	_, err := a.policy.AuthorizeContext(ctx, op)
	return err
}

// CaseETag returns a strong entity tag for one case representation.
func CaseETag(view CaseView) (string, error) {
	raw, err := json.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("encode case view: %w", err)
	}
	sum := sha256.Sum256(raw)
	return `"` + hex.EncodeToString(sum[:16]) + `"`, nil
}
