package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hatchctl/hatch/internal/cerr"
	"github.com/hatchctl/hatch/internal/engine"
)

// upEnvelope is the stable JSON contract for "hatch up --log-format json",
// mirroring the devcontainer CLI's up/build output shape.
type upEnvelope struct {
	Outcome             string `json:"outcome"`
	ContainerID         string `json:"containerId,omitempty"`
	RemoteUser          string `json:"remoteUser,omitempty"`
	RemoteWorkspaceFolder string `json:"remoteWorkspaceFolder,omitempty"`
	ComposeProjectName  string `json:"composeProjectName,omitempty"`
	ErrorKind           string `json:"errorKind,omitempty"`
	Message             string `json:"message,omitempty"`
}

// emitJSONError writes a {outcome:"error", errorKind, message} envelope to
// stdout. errorKind is populated when err carries a *cerr.Error in its chain.
func emitJSONError(err error) {
	env := upEnvelope{Outcome: "error", Message: err.Error()}
	if ce, ok := cerr.As(err); ok {
		env.ErrorKind = string(ce.Kind)
	}
	data, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		fmt.Fprintln(os.Stdout, `{"outcome":"error","message":"internal: failed to encode error envelope"}`)
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}

func emitJSONSuccess(env upEnvelope) error {
	env.Outcome = "success"
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

// buildEnvelope is the JSON contract for "hatch build --log-format json".
type buildEnvelope struct {
	Outcome     string   `json:"outcome"`
	Tags        []string `json:"tags,omitempty"`
	Pushed      []string `json:"pushed,omitempty"`
	ArchivePath string   `json:"archivePath,omitempty"`
	ErrorKind   string   `json:"errorKind,omitempty"`
	Message     string   `json:"message,omitempty"`
}

func emitBuildJSON(result *engine.BuildResult) error {
	env := buildEnvelope{Outcome: "success", Tags: result.Tags, Pushed: result.Pushed, ArchivePath: result.ArchivePath}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
