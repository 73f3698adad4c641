package feature

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/hatchctl/hatch/internal/cerr"
)

// requestTimeout is the deadline for one whole FetchMetadata or PushArtifact
// call (every ref of a PushArtifact call shares it); ListTags gets
// requestTimeout*maxTagPages. It is not applied per round trip, and Resolve
// sets no deadline of its own.
const requestTimeout = 10 * time.Second

// maxTags caps the number of tags ListTags returns. maxTagPages only scales
// ListTags' deadline; remote.List follows every page, so the page count
// itself is not capped.
const (
	maxTagPages = 10
	maxTags     = 1000
)

// envAuthKeychain implements authn.Keychain over DEVCONTAINERS_OCI_AUTH,
// falling back to the default keychain (docker config, env credential
// helpers) for any registry it doesn't cover.
//
// Format: comma-separated "<registry>|<username>|<token>" entries, e.g.
// "ghcr.io|myuser|ghp_xxx,docker.io|myuser|dckr_pat_xxx".
type envAuthKeychain struct {
	entries map[string]authn.AuthConfig
}

func newEnvAuthKeychain() *envAuthKeychain {
	k := &envAuthKeychain{entries: make(map[string]authn.AuthConfig)}
	raw := os.Getenv("DEVCONTAINERS_OCI_AUTH")
	if raw == "" {
		return k
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, "|", 3)
		if len(parts) != 3 {
			continue
		}
		k.entries[parts[0]] = authn.AuthConfig{Username: parts[1], Password: parts[2]}
	}
	return k
}

func (k *envAuthKeychain) Resolve(target authn.Resource) (authn.Authenticator, error) {
	if cfg, ok := k.entries[target.RegistryStr()]; ok {
		return authn.FromConfig(cfg), nil
	}
	return authn.DefaultKeychain.Resolve(target)
}

func ociRemoteOptions(ctx context.Context) []remote.Option {
	return []remote.Option{
		remote.WithAuthFromKeychain(newEnvAuthKeychain()),
		remote.WithContext(ctx),
	}
}

// FetchMetadata pulls the image for ref, extracts all of its layers into a
// throwaway temp dir and parses devcontainer-feature.json from there,
// without populating the on-disk feature cache. Used by
// "hatch features info" to inspect a feature without installing it.
func (r *OCIResolver) FetchMetadata(ctx context.Context, ref string) (*FeatureConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	parsed, err := name.ParseReference(ref, name.Insecure)
	if err != nil {
		return nil, cerr.Wrap(cerr.RegistryProtocol, "parsing OCI ref "+ref, err)
	}

	img, err := remote.Image(parsed, ociRemoteOptions(ctx)...)
	if err != nil {
		return nil, wrapRegistryError(ref, err)
	}

	tmpDir, err := os.MkdirTemp("", "hatch-feature-metadata-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	if err := extractOCIImage(img, tmpDir); err != nil {
		return nil, cerr.Wrap(cerr.MetadataFetch, "extracting feature metadata for "+ref, err)
	}

	return ParseFeatureConfig(tmpDir)
}

// ListTags lists the tags published for an OCI repository reference
// (registry/namespace/name, no tag). At most maxTags tags are returned; the
// number of pages remote.List reads is not capped.
func (r *OCIResolver) ListTags(ctx context.Context, repoRef string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout*maxTagPages)
	defer cancel()

	repo, err := name.NewRepository(repoRef, name.Insecure)
	if err != nil {
		return nil, cerr.Wrap(cerr.RegistryProtocol, "parsing OCI repository "+repoRef, err)
	}

	// go-containerregistry's remote.List already paginates internally
	// against the registry's _tags/list endpoint; this enforces the
	// spec's explicit cap on top of that so a pathological registry
	// can't hand back an unbounded tag list.
	tags, err := remote.List(repo, remote.WithAuthFromKeychain(newEnvAuthKeychain()), remote.WithContext(ctx))
	if err != nil {
		return nil, wrapRegistryError(repo.String(), err)
	}
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags, nil
}

// PushArtifact packages featureDir (containing devcontainer-feature.json and
// its install scripts) as a single-layer tar.gz OCI artifact and pushes it to
// each of refs (one push per tag).
func (r *OCIResolver) PushArtifact(ctx context.Context, featureDir string, refs []string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	layerPath, err := tarGzDir(featureDir)
	if err != nil {
		return fmt.Errorf("packaging feature artifact: %w", err)
	}
	defer func() { _ = os.Remove(layerPath) }()

	layer, err := tarball.LayerFromFile(layerPath)
	if err != nil {
		return fmt.Errorf("building OCI layer: %w", err)
	}

	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return fmt.Errorf("building OCI image: %w", err)
	}

	for _, ref := range refs {
		parsed, err := name.ParseReference(ref, name.Insecure)
		if err != nil {
			return cerr.Wrap(cerr.RegistryProtocol, "parsing OCI ref "+ref, err)
		}
		if err := remote.Write(parsed, img, ociRemoteOptions(ctx)...); err != nil {
			return wrapRegistryError(ref, err)
		}
	}
	return nil
}

// wrapRegistryError classifies a go-containerregistry transport error into
// the engine's error taxonomy.
func wrapRegistryError(ref string, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return cerr.Wrap(cerr.AuthFailed, "authenticating to registry for "+ref, err)
		}
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return cerr.Wrap(cerr.NetworkTimeout, "contacting registry for "+ref, err)
	}
	return cerr.Wrap(cerr.RegistryProtocol, "registry operation failed for "+ref, err)
}

// PackageDir tars and gzips featureDir's contents into destPath, overwriting
// it if present. Used by "hatch features package" to produce a standalone
// artifact without publishing it to a registry.
func PackageDir(featureDir, destPath string) (string, error) {
	tmp, err := tarGzDir(featureDir)
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp) }()

	data, err := os.ReadFile(tmp)
	if err != nil {
		return "", fmt.Errorf("reading packaged artifact: %w", err)
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing packaged artifact: %w", err)
	}
	return destPath, nil
}

// tarGzDir packages dir's contents into a gzip-compressed tar file and
// returns its path (caller must remove it).
func tarGzDir(dir string) (string, error) {
	f, err := os.CreateTemp("", "hatch-feature-*.tar.gz")
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}
