package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/hylla/courtroom/internal/domain"
)

// OperationID names one guarded operation in the access policy.
type OperationID string

// Guarded operations exposed by the transports.
const (
	OpCaseCreate            OperationID = "case.create"
	OpCaseList              OperationID = "case.list"
	OpCaseGet               OperationID = "case.get"
	OpCaseUpdate            OperationID = "case.update"
	OpCaseDelete            OperationID = "case.delete"
	OpCaseEvents            OperationID = "case.events"
	OpCaseCompleteIntake    OperationID = "case.complete_intake"
	OpCaseStartTrial        OperationID = "case.start_trial"
	OpCaseBeginDeliberation OperationID = "case.begin_deliberation"
	OpCaseRecordVerdict     OperationID = "case.record_verdict"
	OpCaseExportRecord      OperationID = "case.export_record"
	OpCaseArchive           OperationID = "case.archive"
)

// Policy maps guarded operations to their access requirements.
type Policy struct {
	rules map[OperationID]domain.AccessRequirement
	order []OperationID
}

// NewPolicy returns an empty policy.
func NewPolicy() *Policy {
	return &Policy{rules: map[OperationID]domain.AccessRequirement{}}
}

// Register binds one operation to its allowed roles.
func (p *Policy) Register(op OperationID, roles ...domain.Role) error {
	if op == "" {
		return fmt.Errorf("register policy: empty operation id")
	}
	if _, ok := p.rules[op]; ok {
		return fmt.Errorf("register policy %s: already registered", op)
	}
	req, err := domain.NewAccessRequirement(roles...)
	if err != nil {
		return fmt.Errorf("register policy %s: %w", op, err)
	}
	p.rules[op] = req
	p.order = append(p.order, op)
	return nil
}

// Requirement returns the requirement registered for one operation.
func (p *Policy) Requirement(op OperationID) (domain.AccessRequirement, bool) {
	req, ok := p.rules[op]
	return req, ok
}

// Operations lists registered operations in registration order.
func (p *Policy) Operations() []OperationID {
	return slices.Clone(p.order)
}

// Authorize applies the access decision for one caller. Operations missing
// from the policy deny.
func (p *Policy) Authorize(caller Caller, op OperationID) error {
	req, ok := p.rules[op]
	if !ok {
		return &domain.AccessError{Operation: string(op), Actual: caller.Role}
	}
	if domain.Decide(caller.Role, req) == domain.Deny {
		return &domain.AccessError{Operation: string(op), Required: req, Actual: caller.Role}
	}
	return nil
}

// AuthorizeContext resolves the caller from context and authorizes it.
func (p *Policy) AuthorizeContext(ctx context.Context, op OperationID) (Caller, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return Caller{}, ErrUnauthenticated
	}
	if err := p.Authorize(caller, op); err != nil {
		return caller, err
	}
	return caller, nil
}

// lifecycleOperations binds guarded operation ids to lifecycle operations.
var lifecycleOperations = map[OperationID]domain.Operation{
	OpCaseCompleteIntake:    domain.OpCompleteIntake,
	OpCaseStartTrial:        domain.OpStartTrial,
	OpCaseBeginDeliberation: domain.OpBeginDeliberation,
	OpCaseRecordVerdict:     domain.OpRecordVerdict,
	OpCaseExportRecord:      domain.OpExportRecord,
	OpCaseArchive:           domain.OpArchive,
}

// LifecycleOperation resolves the lifecycle operation behind one guarded id.
func LifecycleOperation(op OperationID) (domain.Operation, bool) {
	lifecycleOp, ok := lifecycleOperations[op]
	return lifecycleOp, ok
}

// DefaultPolicy returns the case access table.
func DefaultPolicy() *Policy {
	readers := []domain.Role{domain.RoleObserver, domain.RoleParticipant, domain.RoleFacilitator, domain.RoleAdmin, domain.RoleOwner}
	runners := []domain.Role{domain.RoleFacilitator, domain.RoleAdmin, domain.RoleOwner}
	managers := []domain.Role{domain.RoleAdmin, domain.RoleOwner}

	p := NewPolicy()
	mustRegister(p, OpCaseCreate, runners...)
	mustRegister(p, OpCaseList, readers...)
	mustRegister(p, OpCaseGet, readers...)
	mustRegister(p, OpCaseUpdate, runners...)
	mustRegister(p, OpCaseDelete, managers...)
	mustRegister(p, OpCaseEvents, readers...)
	mustRegister(p, OpCaseCompleteIntake, runners...)
	mustRegister(p, OpCaseStartTrial, runners...)
	mustRegister(p, OpCaseBeginDeliberation, runners...)
	mustRegister(p, OpCaseRecordVerdict, runners...)
	mustRegister(p, OpCaseExportRecord, runners...)
	mustRegister(p, OpCaseArchive, managers...)
	return p
}

// mustRegister panics on static policy table mistakes.
func mustRegister(p *Policy, op OperationID, roles ...domain.Role) {
	if err := p.Register(op, roles...); err != nil {
		panic(err)
	}
}
