package main

import (
	"github.com/pmuller/ipkg/internal/environment"
	"github.com/pmuller/ipkg/internal/fetch"
	"github.com/pmuller/ipkg/internal/ipkgconfig"
	"github.com/pmuller/ipkg/internal/ipkgerr"
	"github.com/pmuller/ipkg/internal/ipkglog"
	"github.com/pmuller/ipkg/internal/platform"
	"github.com/pmuller/ipkg/internal/repository"
)

// resolveEnvPrefix picks the environment prefix: the -e flag first,
// then the active environment from IPKG_ENVIRONMENT.
func resolveEnvPrefix(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if active := ipkgconfig.ActiveEnvironment(); active != "" {
		return active, nil
	}
	return "", ipkgerr.New(ipkgerr.InvalidInput,
		"no environment given: pass -e or activate one (IPKG_ENVIRONMENT)")
}

// openEnv opens an existing environment, inheriting the invoker's
// variables as the seed.
func openEnv(prefix string) (*environment.Environment, error) {
	return environment.Open(prefix, environment.Options{
		InheritEnv: true,
		Log:        ipkglog.Default(),
	})
}

// newFetcher builds the shared fetcher backed by the configured
// download cache.
func newFetcher() (*fetch.Fetcher, error) {
	cfg, err := ipkgconfig.Default()
	if err != nil {
		return nil, ipkgerr.Wrap(ipkgerr.IoError, err, "resolve configuration")
	}
	return fetch.New(cfg.CacheDir, ipkglog.Default()), nil
}

// openPackageRepo opens the package repository at base (local path or
// http(s) URL); empty base means none configured.
func openPackageRepo(base string) (*repository.PackageRepository, error) {
	if base == "" {
		return nil, nil
	}
	fetcher, err := newFetcher()
	if err != nil {
		return nil, err
	}
	return repository.Open(globalCtx, base, platform.Current(), fetcher, ipkglog.Default())
}

// repoOrNil keeps the untyped-nil-interface pitfall out of call
// sites: a nil *PackageRepository must become a nil interface.
func repoOrNil(repo *repository.PackageRepository) environment.Repository {
	if repo == nil {
		return nil
	}
	return repo
}
