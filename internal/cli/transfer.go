package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewImportCmd loads quizzes from an exported JSON file.
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json|->",
		Short: "Import one quiz or an array of quizzes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := loadRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			data, err := readSource(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			imported, err := rt.service.ImportQuizzes(ctx, []byte(data))
			for _, quiz := range imported {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", quiz.ID, quiz.Title)
			}
			return err
		},
	}
}

// NewExportCmd writes a quiz in the interchange format.
func NewExportCmd(configPath *string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <quizID>",
		Short: "Export a quiz as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := loadRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			data, err := rt.service.ExportQuiz(ctx, args[0])
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
