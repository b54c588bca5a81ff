package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ashour158/People-sub002/internal/application/service"
	"github.com/Ashour158/People-sub002/internal/application/workflow"
	"github.com/Ashour158/People-sub002/internal/container"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

var (
	definitionSamplePath string
	definitionListLimit  int
	definitionListOffset int
)

var definitionCmd = &cobra.Command{
	Use:   "definition",
	Short: "Validate and manage workflow definitions",
}

var definitionValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a definition document without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, sample, err := readDefinitionFiles(args[0], definitionSamplePath)
		if err != nil {
			return err
		}

		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		defer logger.Sync()

		dir, err := container.ProvideDirectory(&cfg.ToContainerConfig().Directory)
		if err != nil {
			return err
		}

		// Validation never touches storage
		svc := service.NewDefinitionService(nil, nil, dir, workflow.NewActionRegistry(), container.NewAppLogger(logger))
		result, err := svc.Validate(cmd.Context(), def, sample)
		if err != nil {
			return definitionError(err)
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var definitionCreateCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "Store a definition as the next active version of its name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, sample, err := readDefinitionFiles(args[0], definitionSamplePath)
		if err != nil {
			return err
		}

		c, err := startContainer(cmd.Context(), false, true)
		if err != nil {
			return err
		}
		defer closeContainer(c)

		stored, result, err := c.DefinitionService().Create(cmd.Context(), def, sample)
		if err != nil {
			return definitionError(err)
		}
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"id":         stored.ID,
			"name":       stored.Name,
			"version":    stored.Version,
			"validation": result,
		})
	},
}

var definitionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored definitions, newest version first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := startContainer(cmd.Context(), false, true)
		if err != nil {
			return err
		}
		defer closeContainer(c)

		defs, err := c.DefinitionService().List(cmd.Context(), definitionListLimit, definitionListOffset)
		if err != nil {
			return err
		}
		for _, d := range defs {
			active := ""
			if d.IsActive {
				active = " (active)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tv%d%s\n", d.ID, d.Name, d.Version, active)
		}
		return nil
	},
}

var definitionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored definition as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := startContainer(cmd.Context(), false, true)
		if err != nil {
			return err
		}
		defer closeContainer(c)

		def, err := c.DefinitionService().Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := domainwf.MarshalDefinition(def)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	for _, cmd := range []*cobra.Command{definitionValidateCmd, definitionCreateCmd} {
		cmd.Flags().StringVar(&definitionSamplePath, "sample", "", "YAML or JSON file with a sample instance context for the approver dry-run")
	}
	definitionListCmd.Flags().IntVar(&definitionListLimit, "limit", 50, "maximum number of definitions")
	definitionListCmd.Flags().IntVar(&definitionListOffset, "offset", 0, "number of definitions to skip")

	definitionCmd.AddCommand(definitionValidateCmd, definitionCreateCmd, definitionListCmd, definitionShowCmd)
}

func readDefinitionFiles(path, samplePath string) (*domainwf.Definition, map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read definition: %w", err)
	}
	def, err := domainwf.ParseDefinition(raw)
	if err != nil {
		return nil, nil, err
	}

	if samplePath == "" {
		return def, nil, nil
	}
	rawSample, err := os.ReadFile(samplePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sample context: %w", err)
	}
	var sample map[string]interface{}
	if err := yaml.Unmarshal(rawSample, &sample); err != nil {
		return nil, nil, fmt.Errorf("failed to parse sample context: %w", err)
	}
	return def, sample, nil
}

// definitionError lists every structural problem on its own line
func definitionError(err error) error {
	var verr *domainwf.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	msg := "workflow definition is invalid:"
	for _, p := range verr.Problems {
		msg += "\n  - " + p
	}
	return errors.New(msg)
}
