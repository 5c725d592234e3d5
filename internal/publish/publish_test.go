package publish

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestPublisher(t *testing.T, opts Options) (*Publisher, *gogit.Repository) {
	t.Helper()

	repo, err := gogit.Init(memory.NewStorage(), memfs.New())
	require.NoError(t, err)

	if opts.AuthorName == "" {
		opts.AuthorName = "Test User"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "test@example.com"
	}
	opts.Now = func() time.Time { return fixedTime }

	p, err := New(repo, opts)
	require.NoError(t, err)
	return p, repo
}

func tagCommit(t *testing.T, repo *gogit.Repository, tag string) plumbing.Hash {
	t.Helper()

	ref, err := repo.Reference(plumbing.NewTagReferenceName(tag), false)
	require.NoError(t, err)
	tagObj, err := repo.TagObject(ref.Hash())
	require.NoError(t, err, "tag %s should be annotated", tag)
	commit, err := tagObj.Commit()
	require.NoError(t, err)
	return commit.Hash
}

func TestPublish_FirstRelease(t *testing.T) {
	p, repo := newTestPublisher(t, Options{})
	ctx := context.Background()

	res, err := p.Publish(ctx, Release{
		Version:       "7.1.0",
		Content:       `{"dns":[]}`,
		PackageURL:    "https://example.org/signal-desktop_7.1.0_amd64.deb",
		PackageSHA256: "abc123",
	})
	require.NoError(t, err)

	assert.Equal(t, "v7.1.0", res.Tag)
	assert.True(t, res.Changed)
	assert.Equal(t, res.Commit, tagCommit(t, repo, "v7.1.0"))

	commit, err := repo.CommitObject(res.Commit)
	require.NoError(t, err)
	assert.Equal(t, "Test User", commit.Author.Name)
	assert.Contains(t, commit.Message, "7.1.0")
	assert.Contains(t, commit.Message, "Package-URL: https://example.org/signal-desktop_7.1.0_amd64.deb")
	assert.Contains(t, commit.Message, "Package-SHA256: abc123")

	f, err := commit.File(DefaultFile)
	require.NoError(t, err)
	content, err := f.Contents()
	require.NoError(t, err)
	assert.Equal(t, `{"dns":[]}`, content)

	published, err := p.HasTag("7.1.0")
	require.NoError(t, err)
	assert.True(t, published)
}

func TestPublish_AlreadyPublished(t *testing.T) {
	p, _ := newTestPublisher(t, Options{})
	ctx := context.Background()

	_, err := p.Publish(ctx, Release{Version: "7.1.0", Content: "a"})
	require.NoError(t, err)

	_, err = p.Publish(ctx, Release{Version: "7.1.0", Content: "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyPublished))
}

func TestPublish_UnchangedContentTagsHead(t *testing.T) {
	p, repo := newTestPublisher(t, Options{})
	ctx := context.Background()

	first, err := p.Publish(ctx, Release{Version: "7.1.0", Content: "same"})
	require.NoError(t, err)

	second, err := p.Publish(ctx, Release{Version: "7.2.0", Content: "same"})
	require.NoError(t, err)

	assert.False(t, second.Changed)
	assert.Equal(t, first.Commit, second.Commit)
	assert.Equal(t, first.Commit, tagCommit(t, repo, "v7.2.0"))

	third, err := p.Publish(ctx, Release{Version: "7.3.0", Content: "different"})
	require.NoError(t, err)
	assert.True(t, third.Changed)
	assert.NotEqual(t, first.Commit, third.Commit)

	commit, err := repo.CommitObject(third.Commit)
	require.NoError(t, err)
	require.Equal(t, 1, commit.NumParents())
	assert.Equal(t, first.Commit, commit.ParentHashes[0])
}

func TestPublish_CustomFileAndPrefix(t *testing.T) {
	p, repo := newTestPublisher(t, Options{File: "/data/fallback.json", TagPrefix: "signal-"})

	res, err := p.Publish(context.Background(), Release{Version: "7.4.0", Content: "{}"})
	require.NoError(t, err)
	assert.Equal(t, "signal-7.4.0", res.Tag)

	commit, err := repo.CommitObject(res.Commit)
	require.NoError(t, err)
	_, err = commit.File("data/fallback.json")
	assert.NoError(t, err)
}

func TestPublish_Validation(t *testing.T) {
	p, _ := newTestPublisher(t, Options{})

	_, err := p.Publish(context.Background(), Release{Content: "x"})
	assert.ErrorIs(t, err, ErrEmptyVersion)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Publish(ctx, Release{Version: "7.1.0"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublish_Signed(t *testing.T) {
	entity, err := openpgp.NewEntity("Test User", "", "test@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)

	p, repo := newTestPublisher(t, Options{SignKey: entity})
	res, err := p.Publish(context.Background(), Release{Version: "7.1.0", Content: "{}"})
	require.NoError(t, err)

	commit, err := repo.CommitObject(res.Commit)
	require.NoError(t, err)
	assert.Contains(t, commit.PGPSignature, "BEGIN PGP SIGNATURE")

	ref, err := repo.Reference(plumbing.NewTagReferenceName("v7.1.0"), false)
	require.NoError(t, err)
	tagObj, err := repo.TagObject(ref.Hash())
	require.NoError(t, err)
	assert.Contains(t, tagObj.PGPSignature, "BEGIN PGP SIGNATURE")
}

func TestPush(t *testing.T) {
	remoteDir := t.TempDir()
	_, err := gogit.PlainInit(remoteDir, true)
	require.NoError(t, err)

	p, repo := newTestPublisher(t, Options{})
	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remoteDir}})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = p.Publish(ctx, Release{Version: "7.1.0", Content: "{}"})
	require.NoError(t, err)

	require.NoError(t, p.Push(ctx, "origin", ""))
	// nothing new to push
	require.NoError(t, p.Push(ctx, "", ""))

	remote, err := gogit.PlainOpen(remoteDir)
	require.NoError(t, err)
	_, err = remote.Reference(plumbing.NewTagReferenceName("v7.1.0"), false)
	assert.NoError(t, err)
}

func TestOpen_NotARepository(t *testing.T) {
	_, err := Open(t.TempDir(), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gogit.ErrRepositoryNotExists))
}

func TestLoadSigningKey(t *testing.T) {
	entity, err := openpgp.NewEntity("Signer", "", "signer@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)

	dir := t.TempDir()

	var private bytes.Buffer
	w, err := armor.Encode(&private, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())
	privatePath := filepath.Join(dir, "private.asc")
	require.NoError(t, os.WriteFile(privatePath, private.Bytes(), 0600))

	var public bytes.Buffer
	w, err = armor.Encode(&public, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())
	publicPath := filepath.Join(dir, "public.asc")
	require.NoError(t, os.WriteFile(publicPath, public.Bytes(), 0600))

	t.Run("private_key", func(t *testing.T) {
		got, err := LoadSigningKey(privatePath, "")
		require.NoError(t, err)
		assert.Equal(t, entity.PrimaryKey.KeyId, got.PrimaryKey.KeyId)
	})

	t.Run("public_only", func(t *testing.T) {
		_, err := LoadSigningKey(publicPath, "")
		assert.ErrorIs(t, err, ErrNoPrivateKey)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadSigningKey(filepath.Join(dir, "nope.asc"), "")
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "open signing key"))
	})
}
