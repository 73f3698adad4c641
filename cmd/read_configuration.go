package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hatchctl/hatch/internal/engine"
	"github.com/spf13/cobra"
)

var (
	readConfigWorkspaceFolderFlag   string
	readConfigOverrideConfigFlag    string
	readConfigIDLabelFlags          []string
	readConfigAdditionalFeatures    string
	readConfigIncludeFeaturesFlag   bool
	readConfigIncludeMergedFlag     bool
)

type readConfigurationEnvelope struct {
	Configuration         any    `json:"configuration"`
	FeaturesConfiguration any    `json:"featuresConfiguration,omitempty"`
	MergedConfiguration   any    `json:"mergedConfiguration,omitempty"`
	Workspace             string `json:"workspace"`
}

var readConfigurationCmd = &cobra.Command{
	Use:   "read-configuration",
	Short: "Print the resolved devcontainer configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, store, err := newEngine()
		if err != nil {
			return err
		}

		ws, err := currentWorkspace(store, false)
		if err != nil {
			return err
		}

		idLabels, err := parseKeyValueFlags(readConfigIDLabelFlags)
		if err != nil {
			return err
		}
		additionalFeatures, err := parseAdditionalFeatures(readConfigAdditionalFeatures)
		if err != nil {
			return err
		}

		res, err := eng.ReadConfiguration(ws, engine.ReadConfigurationOptions{
			WorkspaceFolder:            readConfigWorkspaceFolderFlag,
			OverrideConfig:             readConfigOverrideConfigFlag,
			IDLabels:                   idLabels,
			AdditionalFeatures:         additionalFeatures,
			IncludeFeaturesConfig:      readConfigIncludeFeaturesFlag,
			IncludeMergedConfiguration: readConfigIncludeMergedFlag,
		})
		if err != nil {
			return err
		}

		env := readConfigurationEnvelope{
			Configuration: res.Configuration,
			Workspace:     res.Workspace,
		}
		if readConfigIncludeFeaturesFlag {
			env.FeaturesConfiguration = res.FeaturesConfiguration
		}
		if readConfigIncludeMergedFlag {
			env.MergedConfiguration = res.MergedConfiguration
		}

		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}

func init() {
	readConfigurationCmd.Flags().StringVar(&readConfigWorkspaceFolderFlag, "workspace-folder", "", "override the in-container workspace mount path")
	readConfigurationCmd.Flags().StringVar(&readConfigOverrideConfigFlag, "override-config", "", "path to a devcontainer.json overlay applied on top of the resolved config")
	readConfigurationCmd.Flags().StringArrayVar(&readConfigIDLabelFlags, "id-label", nil, "additional identity label as name=value (repeatable)")
	readConfigurationCmd.Flags().StringVar(&readConfigAdditionalFeatures, "additional-features", "", "JSON object of extra feature refs to merge into the resolved feature set")
	readConfigurationCmd.Flags().BoolVar(&readConfigIncludeFeaturesFlag, "include-features-configuration", false, "include the resolved, ordered feature set in the output")
	readConfigurationCmd.Flags().BoolVar(&readConfigIncludeMergedFlag, "include-merged-configuration", false, "include the fully substituted, feature-merged configuration in the output")
}
