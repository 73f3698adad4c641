package cmd

import (
	"os"

	"github.com/hatchctl/hatch/internal/engine"
	"github.com/spf13/cobra"
)

var (
	buildImageNameFlags []string
	buildLabelFlags     []string
	buildPushFlag       bool
	buildOutputFlag     string
	buildPlatformFlag   string
	buildCacheFromFlags []string
	buildCacheToFlag    string
	buildNoCacheFlag    bool
	buildKitModeFlag    string
	buildLogFormatFlag  string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the workspace's devcontainer image without starting a container",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput := buildLogFormatFlag == "json"
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
		eng.SetRuntime(d.Runtime().String())
		if !jsonOutput {
			eng.SetProgress(func(msg string) { u.Dim("  " + msg) })
		}

		ws, err := currentWorkspace(store, true)
		if err != nil {
			if jsonOutput {
				emitJSONError(err)
				return nil
			}
			return err
		}

		labels, err := parseKeyValueFlags(buildLabelFlags)
		if err != nil {
			if jsonOutput {
				emitJSONError(err)
				return nil
			}
			return err
		}

		if !jsonOutput {
			u.Dim(versionString())
			u.Header("Building image")
		}

		result, err := eng.Build(cmd.Context(), ws, engine.BuildOptions{
			Tags:         buildImageNameFlags,
			Labels:       labels,
			Push:         buildPushFlag,
			Output:       buildOutputFlag,
			Platform:     buildPlatformFlag,
			CacheFrom:    buildCacheFromFlags,
			CacheTo:      buildCacheToFlag,
			NoCache:      buildNoCacheFlag,
			BuildKitMode: buildKitModeFlag,
		})
		if err != nil {
			if jsonOutput {
				emitJSONError(err)
				return nil
			}
			return err
		}

		if jsonOutput {
			return emitBuildJSON(result)
		}

		u.Success("Image built")
		for _, t := range result.Tags {
			u.Keyval("tag", t)
		}
		if len(result.Pushed) > 0 {
			u.Keyval("pushed", formatPortSpecs(result.Pushed))
		}
		if result.ArchivePath != "" {
			u.Keyval("output", result.ArchivePath)
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().StringArrayVar(&buildImageNameFlags, "image-name", nil, "image tag to apply (repeatable)")
	buildCmd.Flags().StringArrayVar(&buildLabelFlags, "label", nil, "image label as name=value (repeatable)")
	buildCmd.Flags().BoolVar(&buildPushFlag, "push", false, "push the built image(s); mutually exclusive with --output")
	buildCmd.Flags().StringVar(&buildOutputFlag, "output", "", `BuildKit output spec, e.g. "type=tar,dest=out.tar"`)
	buildCmd.Flags().StringVar(&buildPlatformFlag, "platform", "", "target platform(s) for the build")
	buildCmd.Flags().StringArrayVar(&buildCacheFromFlags, "cache-from", nil, "BuildKit cache source (repeatable)")
	buildCmd.Flags().StringVar(&buildCacheToFlag, "cache-to", "", "BuildKit cache destination")
	buildCmd.Flags().BoolVar(&buildNoCacheFlag, "no-cache", false, "disable the build cache")
	buildCmd.Flags().StringVar(&buildKitModeFlag, "buildkit", "auto", `BuildKit mode: "auto" or "never"`)
	buildCmd.Flags().StringVar(&buildLogFormatFlag, "log-format", "text", `output format: "text" or "json"`)
}
