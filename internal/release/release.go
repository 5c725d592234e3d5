// Package release discovers vendor release versions from a git remote's tag
// list.
package release

import (
	"context"
	"fmt"
	"strings"

	"github.com/blang/semver"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/logging"
)

// Lister lists the tag names advertised by a remote repository.
type Lister interface {
	ListTags(ctx context.Context, url string) ([]string, error)
}

// RemoteLister implements Lister with go-git, equivalent to
// `git ls-remote --tags <url>` without a local clone.
type RemoteLister struct{}

// ListTags returns the short names of all tags on the remote.
func (RemoteLister) ListTags(ctx context.Context, url string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	remote := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})

	refs, err := remote.ListContext(ctx, &gogit.ListOptions{PeelingOption: gogit.IgnorePeeled})
	if err != nil {
		return nil, fmt.Errorf("list remote %s: %w", url, err)
	}

	var tags []string
	for _, ref := range refs {
		if ref.Name().IsTag() {
			tags = append(tags, ref.Name().Short())
		}
	}
	return tags, nil
}

// Filter selects which tags count as releases.
type Filter struct {
	// Prefix is stripped from tag names before parsing (e.g. "v")
	Prefix string
	// Min is the lowest version kept
	Min semver.Version
	// IncludePrerelease keeps versions such as 7.2.0-beta.1
	IncludePrerelease bool
}

// Select parses tag names into versions, dropping anything that is not a
// strict semantic version with the prefix, any pre-release (unless allowed)
// and anything below Min. The result is sorted ascending without duplicates.
func (f Filter) Select(tags []string, log logging.Logger) []semver.Version {
	log = logging.OrNoop(log)

	seen := make(map[string]bool)
	var versions []semver.Version
	for _, tag := range tags {
		if !strings.HasPrefix(tag, f.Prefix) {
			continue
		}
		v, err := semver.Parse(strings.TrimPrefix(tag, f.Prefix))
		if err != nil {
			log.Debug("skipping tag", "tag", tag, "reason", err.Error())
			continue
		}
		if len(v.Pre) > 0 && !f.IncludePrerelease {
			continue
		}
		if v.LT(f.Min) {
			continue
		}
		if seen[v.String()] {
			continue
		}
		seen[v.String()] = true
		versions = append(versions, v)
	}

	semver.Sort(versions)
	return versions
}

// Discover lists the tags at url and returns the release versions selected
// by f.
func Discover(ctx context.Context, lister Lister, url string, f Filter, log logging.Logger) ([]semver.Version, error) {
	tags, err := lister.ListTags(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	versions := f.Select(tags, log)
	logging.OrNoop(log).Debug("discovered versions", "url", url, "tags", len(tags), "versions", len(versions))
	return versions, nil
}

// Source discovers versions from a fixed remote. It adapts Discover to
// callers that only need a version list.
type Source struct {
	Lister Lister
	URL    string
	Filter Filter
	Logger logging.Logger
}

// Versions returns the release versions currently advertised by the remote.
func (s *Source) Versions(ctx context.Context) ([]semver.Version, error) {
	lister := s.Lister
	if lister == nil {
		lister = RemoteLister{}
	}
	return Discover(ctx, lister, s.URL, s.Filter, s.Logger)
}
