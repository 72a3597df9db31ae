package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pmuller/ipkg/internal/ipkgerr"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ipkgerr.New(ipkgerr.InvalidInput, "x"), ExitUsage},
		{ipkgerr.New(ipkgerr.NotFound, "x"), ExitNotFound},
		{ipkgerr.New(ipkgerr.ConflictingConstraint, "x"), ExitConflictingConstraint},
		{ipkgerr.New(ipkgerr.ChecksumMismatch, "x"), ExitChecksumMismatch},
		{ipkgerr.New(ipkgerr.ArchiveLayoutInvalid, "x"), ExitArchiveInvalid},
		{ipkgerr.New(ipkgerr.ExecutionFailed, "x"), ExitExecutionFailed},
		{ipkgerr.New(ipkgerr.Cycle, "x"), ExitCycle},
		{ipkgerr.New(ipkgerr.MetaCorrupt, "x"), ExitMetaCorrupt},
		{ipkgerr.New(ipkgerr.IoError, "x"), ExitIo},
		{ipkgerr.New(ipkgerr.AlreadyInstalled, "x"), ExitSuccess},
		{errors.New("plain"), ExitGeneral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, exitCodeFor(tc.err), tc.err.Error())
	}
}

func TestResolveEnvPrefixFlagWins(t *testing.T) {
	t.Setenv("IPKG_ENVIRONMENT", "/from/env")

	prefix, err := resolveEnvPrefix("/from/flag")
	assert.NoError(t, err)
	assert.Equal(t, "/from/flag", prefix)

	prefix, err = resolveEnvPrefix("")
	assert.NoError(t, err)
	assert.Equal(t, "/from/env", prefix)
}

func TestResolveEnvPrefixMissing(t *testing.T) {
	t.Setenv("IPKG_ENVIRONMENT", "")

	_, err := resolveEnvPrefix("")
	assert.Error(t, err)
	assert.True(t, ipkgerr.Is(err, ipkgerr.InvalidInput))
}
