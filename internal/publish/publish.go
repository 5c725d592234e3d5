// Package publish records extracted artifacts in a git repository: one
// commit and one annotated tag per release version.
package publish

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/ZebulonRouseFrantzich/dnsfallback/internal/logging"
)

// Common publishing errors
var (
	ErrAlreadyPublished = errors.New("release already published")
	ErrEmptyVersion     = errors.New("release version cannot be empty")
	ErrNoWorktree       = errors.New("repository has no worktree")
)

const (
	// DefaultFile is the path of the published artifact inside the repository
	DefaultFile = "dns-fallback.json"
	// DefaultTagPrefix is prepended to the version to form tag names
	DefaultTagPrefix = "v"

	defaultAuthorName  = "dnsfallback"
	defaultAuthorEmail = "dnsfallback@localhost"
)

// Options configures a Publisher.
type Options struct {
	File        string
	TagPrefix   string
	AuthorName  string
	AuthorEmail string
	// SignKey signs commits and tags when set; it must already be decrypted
	SignKey *openpgp.Entity
	Logger  logging.Logger
	// Now is used for commit and tag timestamps; defaults to time.Now
	Now func() time.Time
}

// Release is one artifact to publish.
type Release struct {
	Version       string
	Content       string
	PackageURL    string
	PackageSHA256 string
}

// Result describes what Publish did.
type Result struct {
	Tag     string
	Commit  plumbing.Hash
	Changed bool
}

// Publisher writes releases into a git repository.
type Publisher struct {
	repo *gogit.Repository
	opts Options
	log  logging.Logger
}

// Open opens the repository at path.
func Open(repoPath string, opts Options) (*Publisher, error) {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return New(repo, opts)
}

// New wraps an already opened repository.
func New(repo *gogit.Repository, opts Options) (*Publisher, error) {
	if opts.File == "" {
		opts.File = DefaultFile
	}
	opts.File = strings.TrimPrefix(path.Clean("/"+opts.File), "/")
	if opts.File == "" {
		return nil, fmt.Errorf("invalid publish file path")
	}
	if opts.TagPrefix == "" {
		opts.TagPrefix = DefaultTagPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.AuthorName == "" || opts.AuthorEmail == "" {
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("read repo config: %w", err)
		}
		if opts.AuthorName == "" {
			opts.AuthorName = firstNonEmpty(cfg.User.Name, defaultAuthorName)
		}
		if opts.AuthorEmail == "" {
			opts.AuthorEmail = firstNonEmpty(cfg.User.Email, defaultAuthorEmail)
		}
	}

	return &Publisher{
		repo: repo,
		opts: opts,
		log:  logging.OrNoop(opts.Logger),
	}, nil
}

// TagName returns the tag used for version.
func (p *Publisher) TagName(version string) string {
	return p.opts.TagPrefix + version
}

// HasTag reports whether version has already been published.
func (p *Publisher) HasTag(version string) (bool, error) {
	_, err := p.repo.Reference(plumbing.NewTagReferenceName(p.TagName(version)), false)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("resolve tag %s: %w", p.TagName(version), err)
}

// Publish commits rel.Content to the configured file and tags the result.
// When the file already holds the same content, HEAD is tagged without a
// new commit.
func (p *Publisher) Publish(ctx context.Context, rel Release) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if rel.Version == "" {
		return nil, ErrEmptyVersion
	}

	tag := p.TagName(rel.Version)
	exists, err := p.HasTag(rel.Version)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPublished, tag)
	}

	current, hasHead, err := p.headContent()
	if err != nil {
		return nil, err
	}

	res := &Result{Tag: tag}
	if hasHead && current == rel.Content {
		head, err := p.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("get HEAD: %w", err)
		}
		res.Commit = head.Hash()
		p.log.Info("content unchanged, tagging HEAD", "version", rel.Version, "commit", res.Commit.String())
	} else {
		hash, err := p.commit(rel)
		if err != nil {
			return nil, err
		}
		res.Commit = hash
		res.Changed = true
		p.log.Info("committed release", "version", rel.Version, "commit", hash.String())
	}

	if _, err := p.repo.CreateTag(tag, res.Commit, &gogit.CreateTagOptions{
		Tagger:  p.signature(),
		Message: fmt.Sprintf("DNS fallback for %s\n", rel.Version),
		SignKey: p.opts.SignKey,
	}); err != nil {
		return nil, fmt.Errorf("create tag %s: %w", tag, err)
	}

	return res, nil
}

// commit writes and stages the file, then commits it.
func (p *Publisher) commit(rel Release) (plumbing.Hash, error) {
	wt, err := p.repo.Worktree()
	if err != nil {
		if errors.Is(err, gogit.ErrIsBareRepository) {
			return plumbing.ZeroHash, ErrNoWorktree
		}
		return plumbing.ZeroHash, fmt.Errorf("get worktree: %w", err)
	}

	if dir := path.Dir(p.opts.File); dir != "." {
		if err := wt.Filesystem.MkdirAll(dir, 0755); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if err := util.WriteFile(wt.Filesystem, p.opts.File, []byte(rel.Content), 0644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", p.opts.File, err)
	}
	if _, err := wt.Add(p.opts.File); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("stage file %s: %w", p.opts.File, err)
	}

	hash, err := wt.Commit(commitMessage(rel), &gogit.CommitOptions{
		Author:  p.signature(),
		SignKey: p.opts.SignKey,
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("create commit: %w", err)
	}
	return hash, nil
}

// headContent returns the file's content at HEAD. hasHead is false for an
// unborn branch or when the file is absent from HEAD.
func (p *Publisher) headContent() (content string, hasHead bool, err error) {
	head, err := p.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get HEAD: %w", err)
	}

	commit, err := p.repo.CommitObject(head.Hash())
	if err != nil {
		return "", false, fmt.Errorf("read HEAD commit: %w", err)
	}
	f, err := commit.File(p.opts.File)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s at HEAD: %w", p.opts.File, err)
	}
	content, err = f.Contents()
	if err != nil {
		return "", false, fmt.Errorf("read %s at HEAD: %w", p.opts.File, err)
	}
	return content, true, nil
}

func (p *Publisher) signature() *object.Signature {
	return &object.Signature{
		Name:  p.opts.AuthorName,
		Email: p.opts.AuthorEmail,
		When:  p.opts.Now(),
	}
}

// Push pushes all branches and tags to remote. token, when non-empty, is
// sent as HTTP basic auth.
func (p *Publisher) Push(ctx context.Context, remote, token string) error {
	if remote == "" {
		remote = gogit.DefaultRemoteName
	}

	opts := &gogit.PushOptions{
		RemoteName: remote,
		RefSpecs: []config.RefSpec{
			"refs/heads/*:refs/heads/*",
			"refs/tags/*:refs/tags/*",
		},
	}
	if token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: token}
	}

	err := p.repo.PushContext(ctx, opts)
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		p.log.Debug("remote already up to date", "remote", remote)
		return nil
	}
	if err != nil {
		return fmt.Errorf("push to %s: %w", remote, err)
	}
	p.log.Info("pushed releases", "remote", remote)
	return nil
}

func commitMessage(rel Release) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Update DNS fallback for %s\n", rel.Version)

	var trailers []string
	if rel.PackageURL != "" {
		trailers = append(trailers, "Package-URL: "+rel.PackageURL)
	}
	if rel.PackageSHA256 != "" {
		trailers = append(trailers, "Package-SHA256: "+rel.PackageSHA256)
	}
	if len(trailers) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(trailers, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
