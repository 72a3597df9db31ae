package main

import "github.com/pmuller/ipkg/internal/ipkgerr"

// Exit codes per error kind, so scripts can distinguish failure
// modes. Anything unrecognized maps to the general error code.
const (
	ExitSuccess               = 0
	ExitGeneral               = 1
	ExitUsage                 = 2
	ExitNotFound              = 3
	ExitConflictingConstraint = 4
	ExitChecksumMismatch      = 5
	ExitArchiveInvalid        = 6
	ExitExecutionFailed       = 7
	ExitCycle                 = 8
	ExitMetaCorrupt           = 9
	ExitIo                    = 10
)

func exitCodeFor(err error) int {
	kind, ok := ipkgerr.KindOf(err)
	if !ok {
		return ExitGeneral
	}
	switch kind {
	case ipkgerr.InvalidInput:
		return ExitUsage
	case ipkgerr.NotFound:
		return ExitNotFound
	case ipkgerr.ConflictingConstraint:
		return ExitConflictingConstraint
	case ipkgerr.ChecksumMismatch:
		return ExitChecksumMismatch
	case ipkgerr.ArchiveLayoutInvalid:
		return ExitArchiveInvalid
	case ipkgerr.ExecutionFailed:
		return ExitExecutionFailed
	case ipkgerr.Cycle:
		return ExitCycle
	case ipkgerr.MetaCorrupt:
		return ExitMetaCorrupt
	case ipkgerr.IoError:
		return ExitIo
	case ipkgerr.AlreadyInstalled:
		return ExitSuccess
	default:
		return ExitGeneral
	}
}
