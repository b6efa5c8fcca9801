package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and readers return these
// (optionally wrapped) so services can translate them into API responses.
//
// All reconstruction-fatal conditions live here: a reconstruction either
// completes exactly or fails with one of these; partial snapshots are never
// returned.
//
// - ErrNotFound: requested record, partition, or bucket does not exist
// - ErrWindowGap: a requested log window is not fully covered by stored buckets
// - ErrClockRegression: wall clock moved backwards beyond the configured tolerance
// - ErrTimestampCollision: two commits to one group resolved to equal timestamps
// - ErrCorruptExportRecord: an export entry could not be decoded or failed its digest
// - ErrCheckpointBlocked: a consumer has not confirmed the proposed checkpoint
// - ErrRetentionViolation: purge requested past the current checkpoint
// - ErrInvalidInput: a request failed structural validation
var (
	ErrNotFound            = errors.New("not found")
	ErrWindowGap           = errors.New("commit log window gap")
	ErrClockRegression     = errors.New("clock regression beyond tolerance")
	ErrTimestampCollision  = errors.New("commit timestamp collision")
	ErrCorruptExportRecord = errors.New("corrupt export record")
	ErrCheckpointBlocked   = errors.New("checkpoint advancement blocked")
	ErrRetentionViolation  = errors.New("retention violation")
	ErrInvalidInput        = errors.New("invalid input")
)
