package util

import "errors"

var (
	ErrReportUnreadable = errors.New("report document is unreadable")

	ErrEngineOutput = errors.New("rewrite engine returned unusable output")

	ErrClaimConflict = errors.New("chunk is already claimed")
	ErrSuspended     = errors.New("claimant is suspended")
	ErrNotFound      = errors.New("not found")
)
