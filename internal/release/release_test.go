package release

import (
	"context"
	"errors"
	"testing"

	"github.com/blang/semver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	tags []string
	err  error
	url  string
}

func (f *fakeLister) ListTags(ctx context.Context, url string) ([]string, error) {
	f.url = url
	return f.tags, f.err
}

func TestFilter_Select(t *testing.T) {
	tags := []string{
		"v7.0.0",
		"v7.1.0",
		"v7.10.0",
		"v7.2.0",
		"v7.2.0-beta.1",
		"v7.2.0^{}",
		"v7.3",
		"7.4.0",
		"nightly",
		"v7.1.0",
		"v7.5.0+build.3",
	}

	f := Filter{Prefix: "v", Min: semver.MustParse("7.1.0")}
	got := f.Select(tags, nil)

	var names []string
	for _, v := range got {
		names = append(names, v.String())
	}
	assert.Equal(t, []string{"7.1.0", "7.2.0", "7.5.0+build.3", "7.10.0"}, names)
}

func TestFilter_Select_Prerelease(t *testing.T) {
	f := Filter{Prefix: "v", Min: semver.MustParse("7.0.0"), IncludePrerelease: true}
	got := f.Select([]string{"v7.2.0-beta.1", "v7.2.0"}, nil)

	require.Len(t, got, 2)
	assert.Equal(t, "7.2.0-beta.1", got[0].String())
	assert.Equal(t, "7.2.0", got[1].String())
}

func TestDiscover(t *testing.T) {
	lister := &fakeLister{tags: []string{"v6.0.0", "v7.1.0", "v7.1.1"}}
	f := Filter{Prefix: "v", Min: semver.MustParse("7.1.0")}

	got, err := Discover(context.Background(), lister, "https://example.com/repo.git", f, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/repo.git", lister.url)
	require.Len(t, got, 2)
	assert.Equal(t, "7.1.1", got[1].String())
}

func TestDiscover_ListError(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}

	_, err := Discover(context.Background(), lister, "https://example.com/repo.git", Filter{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRemoteLister_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RemoteLister{}.ListTags(ctx, "https://example.com/repo.git")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSource_Versions(t *testing.T) {
	lister := &fakeLister{tags: []string{"v7.1.0", "v7.0.9", "v7.2.0-alpha.1"}}
	src := &Source{
		Lister: lister,
		URL:    "https://example.com/repo.git",
		Filter: Filter{Prefix: "v", Min: semver.MustParse("7.1.0")},
	}

	got, err := src.Versions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "7.1.0", got[0].String())
	assert.Equal(t, "https://example.com/repo.git", lister.url)
}
