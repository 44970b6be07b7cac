package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"quiz-studio/internal/domain"
)

// NewGenerateCmd drafts questions from a text file with the LLM.
func NewGenerateCmd(configPath *string) *cobra.Command {
	var (
		count      int
		difficulty string
		kinds      []string
		title      string
	)
	cmd := &cobra.Command{
		Use:   "generate <source.txt|->",
		Short: "Generate quiz questions from source text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := loadRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()
			if rt.generator == nil {
				return fmt.Errorf("generation needs llm.apiKey or LLM_API_KEY")
			}

			text, err := readSource(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			prefs, err := rt.service.Preferences(ctx)
			if err != nil {
				return err
			}
			opts := prefs.DefaultGeneration
			if cmd.Flags().Changed("count") {
				opts.Count = count
			}
			if cmd.Flags().Changed("difficulty") {
				opts.Difficulty = domain.Difficulty(difficulty)
			}
			if cmd.Flags().Changed("kinds") {
				opts.AllowedKinds = nil
				for _, k := range kinds {
					opts.AllowedKinds = append(opts.AllowedKinds, domain.QuestionType(strings.TrimSpace(k)))
				}
			}

			view := newTerminalView(cmd.ErrOrStderr())
			gen, err := rt.generator.Generate(ctx, text, opts, view)
			if err != nil {
				return err
			}
			if gen.Partial {
				fmt.Fprintf(cmd.ErrOrStderr(), "only %d of %d requested questions passed validation\n", len(gen.Questions), gen.Requested)
			}

			if title == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(gen.Questions)
			}
			quiz, err := rt.service.CreateQuiz(ctx, domain.Quiz{Title: title, Questions: gen.Questions})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved quiz %s (%d questions)\n", quiz.ID, len(quiz.Questions))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 5, "number of questions (1-20)")
	cmd.Flags().StringVar(&difficulty, "difficulty", string(domain.DifficultyMixed), "mixed, easy, medium or hard")
	cmd.Flags().StringSliceVar(&kinds, "kinds", nil, "allowed question types (mcq-single,mcq-multiple,text-input)")
	cmd.Flags().StringVar(&title, "title", "", "save the questions as a new quiz with this title")
	return cmd
}

func readSource(stdin io.Reader, name string) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(name)
	return string(data), err
}
