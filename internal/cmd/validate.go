package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskhub/internal/registry"
)

var (
	validateTypesFile     string
	validateTemplatesFile string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a template set",
	Long: `Flatten the template hierarchy and report every template id that
would be startable, failing on duplicate ids, missing parents, and
unknown types.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateTypesFile, "types", "", "task types file (YAML)")
	validateCmd.Flags().StringVar(&validateTemplatesFile, "templates", "templates.yaml", "templates file (YAML)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	reg, err := registry.LoadFiles(validateTypesFile, validateTemplatesFile)
	if err != nil {
		return err
	}

	ids := reg.IDs()
	for _, id := range ids {
		fmt.Println(id)
	}
	fmt.Printf("%d templates ok\n", len(ids))
	return nil
}
