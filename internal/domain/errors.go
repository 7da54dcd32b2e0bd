package domain

import "errors"

var (
	ErrInvalidID           = errors.New("invalid id")
	ErrInvalidTitle        = errors.New("invalid title")
	ErrInvalidCaseType     = errors.New("invalid case type")
	ErrInvalidStatus       = errors.New("invalid case status")
	ErrInvalidJurisdiction = errors.New("invalid jurisdiction")
	ErrUnknownRole         = errors.New("unknown role")
	ErrEmptyRequirement    = errors.New("access requirement must list at least one role")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidTransition   = errors.New("invalid lifecycle transition")
	ErrUnknownOperation    = errors.New("unknown lifecycle operation")
)
