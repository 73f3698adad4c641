package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hatchctl/hatch/internal/engine"
	"github.com/hatchctl/hatch/internal/plugin"
	"github.com/hatchctl/hatch/internal/plugin/codingagents"
	"github.com/hatchctl/hatch/internal/plugin/shellhistory"
	"github.com/spf13/cobra"
)

var (
	recreateFlag                bool
	upWorkspaceFolderFlag        string
	upContainerNameFlag          string
	upIDLabelFlags               []string
	upRemoveExistingContainerFlag bool
	upExpectExistingContainerFlag bool
	upSkipPostCreateFlag         bool
	upSkipPostAttachFlag         bool
	upSkipNonBlockingFlag        bool
	upPrebuildFlag               bool
	upRemoteEnvFlags             []string
	upAdditionalFeaturesFlag     string
	upOverrideConfigFlag         string
	upLogFormatFlag              string
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Create or start the workspace container",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput := upLogFormatFlag == "json"
		u := newUI()

		eng, d, store, err := newEngine()
		if err != nil {
			if jsonOutput {
				emitJSONError(err)
				return nil
			}
			return err
		}
		eng.SetOutput(os.Stdout, os.Stderr)
		eng.SetVerbose(verboseFlag || debugFlag)
		if !jsonOutput {
			eng.SetProgress(func(msg string) { u.Dim("  " + msg) })
		}
		eng.SetRuntime(d.Runtime().String())

		mgr := plugin.NewManager(logger)
		mgr.Register(codingagents.New())
		mgr.Register(shellhistory.New())
		eng.SetPlugins(mgr)

		ws, err := currentWorkspace(store, true)
		if err != nil {
			if jsonOutput {
				emitJSONError(err)
				return nil
			}
			return err
		}

		idLabels, err := parseKeyValueFlags(upIDLabelFlags)
		if err != nil {
			if jsonOutput {
				emitJSONError(err)
				return nil
			}
			return err
		}
		remoteEnv, err := parseKeyValueFlags(upRemoteEnvFlags)
		if err != nil {
			if jsonOutput {
				emitJSONError(err)
				return nil
			}
			return err
		}
		additionalFeatures, err := parseAdditionalFeatures(upAdditionalFeaturesFlag)
		if err != nil {
			if jsonOutput {
				emitJSONError(err)
				return nil
			}
			return err
		}

		if !jsonOutput {
			u.Dim(versionString())
			u.Header("Starting workspace")
		}

		result, err := eng.Up(cmd.Context(), ws, engine.UpOptions{
			Recreate:                 recreateFlag,
			ContainerName:            upContainerNameFlag,
			IDLabels:                 idLabels,
			WorkspaceFolder:          upWorkspaceFolderFlag,
			Prebuild:                 upPrebuildFlag,
			SkipPostCreate:           upSkipPostCreateFlag,
			SkipPostAttach:           upSkipPostAttachFlag,
			SkipNonBlockingCommands:  upSkipNonBlockingFlag,
			RemoteEnv:                remoteEnv,
			AdditionalFeatures:       additionalFeatures,
			RemoveExistingContainer:  upRemoveExistingContainerFlag,
			ExpectExistingContainer:  upExpectExistingContainerFlag,
			OverrideConfig:           upOverrideConfigFlag,
		})
		if err != nil {
			if jsonOutput {
				emitJSONError(err)
				return nil
			}
			return err
		}

		if jsonOutput {
			return emitJSONSuccess(upEnvelope{
				ContainerID:           result.ContainerID,
				RemoteUser:            result.RemoteUser,
				RemoteWorkspaceFolder: result.WorkspaceFolder,
				ComposeProjectName:    result.ComposeProjectName,
			})
		}

		u.Success("Workspace ready")
		u.Keyval("container", shortID(result.ContainerID))
		u.Keyval("workspace", result.WorkspaceFolder)
		if result.RemoteUser != "" {
			u.Keyval("user", result.RemoteUser)
		}
		if ports := formatPorts(result.Ports); ports != "" {
			u.Keyval("ports", ports)
		}

		return nil
	},
}

func init() {
	upCmd.Flags().BoolVar(&recreateFlag, "recreate", false, "recreate container even if one already exists")
	upCmd.Flags().StringVar(&upWorkspaceFolderFlag, "workspace-folder", "", "override the in-container workspace mount path")
	upCmd.Flags().StringVar(&upContainerNameFlag, "container-name", "", "override the generated container name")
	upCmd.Flags().StringArrayVar(&upIDLabelFlags, "id-label", nil, "additional identity label as name=value (repeatable)")
	upCmd.Flags().BoolVar(&upRemoveExistingContainerFlag, "remove-existing-container", false, "remove any existing container for this workspace before creating a new one")
	upCmd.Flags().BoolVar(&upExpectExistingContainerFlag, "expect-existing-container", false, "fail if no existing container is found instead of creating one")
	upCmd.Flags().BoolVar(&upPrebuildFlag, "prebuild", false, "stop after onCreate/updateContent; skip postCreate, postStart, and postAttach")
	upCmd.Flags().BoolVar(&upSkipPostCreateFlag, "skip-post-create", false, "skip postCreateCommand")
	upCmd.Flags().BoolVar(&upSkipPostAttachFlag, "skip-post-attach", false, "skip postAttachCommand")
	upCmd.Flags().BoolVar(&upSkipNonBlockingFlag, "skip-non-blocking-commands", false, "accepted but has no effect: every lifecycle hook entry runs to completion")
	upCmd.Flags().StringArrayVar(&upRemoteEnvFlags, "remote-env", nil, "additional remoteEnv entry as name=value (repeatable)")
	upCmd.Flags().StringVar(&upAdditionalFeaturesFlag, "additional-features", "", "JSON object of extra feature refs to merge into the resolved feature set")
	upCmd.Flags().StringVar(&upOverrideConfigFlag, "override-config", "", "path to a devcontainer.json overlay applied on top of the resolved config")
	upCmd.Flags().StringVar(&upLogFormatFlag, "log-format", "text", `output format: "text" or "json"`)
	upCmd.Flags().Bool("experimental-lockfile", false, "write a feature resolution lockfile next to the config (not yet implemented)")
	upCmd.Flags().Bool("experimental-frozen-lockfile", false, "fail if the feature resolution would differ from the lockfile (not yet implemented)")
}

// parseKeyValueFlags parses a list of "name=value" strings into a map.
func parseKeyValueFlags(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("invalid key=value entry %q", e)
		}
		out[k] = v
	}
	return out, nil
}

// parseAdditionalFeatures parses the --additional-features JSON object flag
// (feature ref -> options), matching the devcontainer CLI's --additional-features
// contract. Returns nil if raw is empty.
func parseAdditionalFeatures(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parsing --additional-features: %w", err)
	}
	return out, nil
}
