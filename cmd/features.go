package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hatchctl/hatch/internal/engine"
	"github.com/spf13/cobra"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Plan, test, package, publish, and inspect devcontainer features",
}

var (
	featuresPlanWorkspaceFolderFlag string
	featuresPlanOverrideConfigFlag  string
	featuresPlanIDLabelFlags        []string
)

var featuresPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the resolved, ordered feature install plan without building",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, store, err := newEngine()
		if err != nil {
			return err
		}
		ws, err := currentWorkspace(store, false)
		if err != nil {
			return err
		}
		idLabels, err := parseKeyValueFlags(featuresPlanIDLabelFlags)
		if err != nil {
			return err
		}

		plan, err := eng.Plan(cmd.Context(), ws, engine.FeaturesPlanOptions{
			WorkspaceFolder: featuresPlanWorkspaceFolderFlag,
			OverrideConfig:  featuresPlanOverrideConfigFlag,
			IDLabels:        idLabels,
		})
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding plan: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}

var (
	featuresTestFeatureDirFlag string
	featuresTestBaseImageFlag  string
	featuresTestOptionsFlag    string
)

var featuresTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Build a feature onto a base image and run its test.sh",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()
		eng, d, _, err := newEngine()
		if err != nil {
			return err
		}
		eng.SetOutput(os.Stdout, os.Stderr)
		eng.SetVerbose(verboseFlag || debugFlag)
		eng.SetRuntime(d.Runtime().String())
		eng.SetProgress(func(msg string) { u.Dim("  " + msg) })

		if featuresTestFeatureDirFlag == "" {
			return fmt.Errorf("--feature-dir is required")
		}
		if featuresTestBaseImageFlag == "" {
			return fmt.Errorf("--base-image is required")
		}

		var opts any
		if featuresTestOptionsFlag != "" {
			if err := json.Unmarshal([]byte(featuresTestOptionsFlag), &opts); err != nil {
				return fmt.Errorf("parsing --options: %w", err)
			}
		}

		u.Header("Testing feature")
		result, err := eng.Test(cmd.Context(), engine.FeaturesTestOptions{
			FeatureDir: featuresTestFeatureDirFlag,
			BaseImage:  featuresTestBaseImageFlag,
			Options:    opts,
		})
		if err != nil {
			return err
		}

		if result.Output != "" {
			fmt.Fprintln(os.Stdout, result.Output)
		}
		if result.Passed {
			u.Success(result.FeatureID + " passed")
			return nil
		}
		return fmt.Errorf("%s failed its test.sh", result.FeatureID)
	},
}

var (
	featuresPackageFeatureDirFlag string
	featuresPackageOutputFlag     string
)

var featuresPackageCmd = &cobra.Command{
	Use:   "package",
	Short: "Tar and gzip a feature directory into a standalone artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()
		eng, _, _, err := newEngine()
		if err != nil {
			return err
		}

		if featuresPackageFeatureDirFlag == "" {
			return fmt.Errorf("--feature-dir is required")
		}
		outputDir := featuresPackageOutputFlag
		if outputDir == "" {
			outputDir = "."
		}

		path, err := eng.Package(cmd.Context(), engine.FeaturesPackageOptions{
			FeatureDir: featuresPackageFeatureDirFlag,
			OutputDir:  outputDir,
		})
		if err != nil {
			return err
		}

		u.Success("Packaged feature")
		u.Keyval("archive", path)
		return nil
	},
}

var (
	featuresPublishFeaturesDirFlag string
	featuresPublishRegistryFlag    string
	featuresPublishDryRunFlag      bool
)

var featuresPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish every feature under a directory to an OCI registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()
		eng, _, _, err := newEngine()
		if err != nil {
			return err
		}

		if featuresPublishFeaturesDirFlag == "" {
			return fmt.Errorf("--features-dir is required")
		}
		if featuresPublishRegistryFlag == "" {
			return fmt.Errorf("--registry is required")
		}

		result, err := eng.Publish(cmd.Context(), engine.FeaturesPublishOptions{
			FeaturesDir: featuresPublishFeaturesDirFlag,
			Registry:    featuresPublishRegistryFlag,
			DryRun:      featuresPublishDryRunFlag,
		})
		if err != nil {
			return err
		}

		for _, fr := range result.Features {
			switch {
			case fr.AlreadyCurrent:
				u.Dim(fr.ID + "@" + fr.Version + ": already current")
			case featuresPublishDryRunFlag:
				u.Dim(fr.ID + "@" + fr.Version + ": would publish " + formatPortSpecs(fr.Tags))
			default:
				u.Success(fr.ID + "@" + fr.Version + ": published " + formatPortSpecs(fr.Tags))
			}
		}
		u.Keyval("collection", result.CollectionJSONPath)
		return nil
	},
}

var featuresInfoCmd = &cobra.Command{
	Use:   "info <ref>",
	Short: "Fetch a feature's metadata from an OCI registry without installing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, _, err := newEngine()
		if err != nil {
			return err
		}

		cfg, err := eng.Info(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding feature metadata: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}

func init() {
	featuresPlanCmd.Flags().StringVar(&featuresPlanWorkspaceFolderFlag, "workspace-folder", "", "override the in-container workspace mount path")
	featuresPlanCmd.Flags().StringVar(&featuresPlanOverrideConfigFlag, "override-config", "", "path to a devcontainer.json overlay applied on top of the resolved config")
	featuresPlanCmd.Flags().StringArrayVar(&featuresPlanIDLabelFlags, "id-label", nil, "additional identity label as name=value (repeatable)")

	featuresTestCmd.Flags().StringVar(&featuresTestFeatureDirFlag, "feature-dir", "", "directory containing devcontainer-feature.json")
	featuresTestCmd.Flags().StringVar(&featuresTestBaseImageFlag, "base-image", "", "image to install the feature onto before testing")
	featuresTestCmd.Flags().StringVar(&featuresTestOptionsFlag, "options", "", "JSON object of feature option values")

	featuresPackageCmd.Flags().StringVar(&featuresPackageFeatureDirFlag, "feature-dir", "", "directory containing devcontainer-feature.json")
	featuresPackageCmd.Flags().StringVar(&featuresPackageOutputFlag, "output-dir", "", "directory to write the packaged artifact to (default: current directory)")

	featuresPublishCmd.Flags().StringVar(&featuresPublishFeaturesDirFlag, "features-dir", "", "directory containing one subdirectory per feature")
	featuresPublishCmd.Flags().StringVar(&featuresPublishRegistryFlag, "registry", "", "OCI repository namespace to publish under, e.g. ghcr.io/org/features")
	featuresPublishCmd.Flags().BoolVar(&featuresPublishDryRunFlag, "dry-run", false, "compute the publish plan without writing to the registry")

	featuresCmd.AddCommand(featuresPlanCmd)
	featuresCmd.AddCommand(featuresTestCmd)
	featuresCmd.AddCommand(featuresPackageCmd)
	featuresCmd.AddCommand(featuresPublishCmd)
	featuresCmd.AddCommand(featuresInfoCmd)
}
