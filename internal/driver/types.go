package driver

import (
	"io"
	"strings"

	"github.com/hatchctl/hatch/internal/config"
)

// ContainerDetails describes a running or stopped container.
type ContainerDetails struct {
	ID      string
	Created string
	State   ContainerState
	Config  ContainerConfig
	Ports   []PortBinding
}

// PortBinding describes a single published port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	HostIP        string
	Protocol      string
}

// ContainerState holds the runtime state of a container.
type ContainerState struct {
	Status    string
	StartedAt string
}

// IsRunning reports whether the container is in the running state.
func (s ContainerState) IsRunning() bool {
	return strings.EqualFold(s.Status, "running")
}

// IsRemoving reports whether the container is in the process of being removed.
func (s ContainerState) IsRemoving() bool {
	return strings.EqualFold(s.Status, "removing")
}

// ContainerConfig holds container configuration metadata.
type ContainerConfig struct {
	Labels map[string]string
	User   string
}

// ImageDetails describes a container image.
type ImageDetails struct {
	ID     string
	Config ImageConfig
}

// ImageConfig holds image configuration metadata.
type ImageConfig struct {
	User       string
	Env        []string
	Labels     map[string]string
	Entrypoint []string
	Cmd        []string
}

// RunOptions holds parameters for creating and starting a container.
type RunOptions struct {
	// Name is the container name to create. When empty, the driver falls
	// back to its own legacy naming scheme; callers should normally set
	// this explicitly (see workspace.DefaultContainerName).
	Name           string
	Image          string
	User           string
	Entrypoint     string
	Cmd            []string
	Env            []string
	CapAdd         []string
	SecurityOpt    []string
	Labels         map[string]string
	Privileged     bool
	Init           bool
	WorkspaceMount config.Mount
	Mounts         []config.Mount
	Ports          []string // Publish specs, e.g. "8080:8080"
	ExtraArgs      []string // Raw CLI args passed through from runArgs
}

// BuildOptions holds parameters for building a container image.
type BuildOptions struct {
	PrebuildHash string
	Image        string
	Dockerfile   string
	Context      string
	Args         map[string]string
	Target       string
	CacheFrom    []string
	Stdout       io.Writer
	Stderr       io.Writer

	// Tags is the full set of image tags to apply (deduplicated, first
	// occurrence preserved). When set, it takes precedence over Image as
	// the set of -t flags passed to the build backend; Image (or the
	// generated name) is still used as the cache-lookup/default tag.
	Tags []string

	// Labels are applied as --label k=v, each overriding any prior k.
	Labels map[string]string

	// Options are extra build-backend flags passed through verbatim,
	// sourced from the devcontainer config's build.options.
	Options []string

	// Push pushes the built image(s) to their registries. Mutually
	// exclusive with Output.
	Push bool

	// Output is a BuildKit --output spec (e.g. "type=tar,dest=out.tar").
	// Mutually exclusive with Push.
	Output string

	// Platform is a --platform spec (e.g. "linux/amd64,linux/arm64").
	Platform string

	// CacheTo is a BuildKit --cache-to spec. Requires BuildKit; ignored
	// (with a warning) when BuildKitMode is "never".
	CacheTo string

	// NoCache disables the build cache entirely.
	NoCache bool

	// BuildKitMode is one of "auto" (honor DOCKER_BUILDKIT) or "never"
	// (force the legacy, non-BuildKit build path). Empty means "auto".
	BuildKitMode string
}
