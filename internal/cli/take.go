package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
	"quiz-studio/internal/llm"
)

const quitCommand = ":q"

// NewTakeCmd runs an interactive attempt in the terminal.
func NewTakeCmd(configPath *string) *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "take <quizID>",
		Short: "Take a quiz interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := loadRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			out := cmd.OutOrStdout()
			events, unsubscribe := rt.quota.Subscribe(4)
			defer unsubscribe()
			go printQuotaEvents(cmd.ErrOrStderr(), events)

			quizID := args[0]
			view := newTerminalView(cmd.ErrOrStderr())
			nav, err := rt.service.StartAttempt(ctx, quizID, view, !fresh)
			if err != nil {
				return err
			}
			defer rt.service.EndAttempt(quizID)

			quiz := nav.Quiz()
			fmt.Fprintf(out, "%s (%d questions). Type %s to stop and save.\n", quiz.Title, len(quiz.Questions), quitCommand)
			src := newTerminalSource(cmd.InOrStdin(), out)
			driveErr := nav.Drive(ctx, src)

			result, done := nav.Result()
			if !done {
				if nav.SaveProgress(context.WithoutCancel(ctx)) {
					fmt.Fprintln(out, "progress saved")
				}
				nav.Abort()
				return driveErr
			}
			printResult(ctx, out, quiz, result, rt.explainer)
			return driveErr
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore saved progress")
	return cmd
}

// terminalSource reads answers line by line from an input stream.
type terminalSource struct {
	out   io.Writer
	lines chan string
}

func newTerminalSource(in io.Reader, out io.Writer) *terminalSource {
	s := &terminalSource{out: out, lines: make(chan string)}
	go func() {
		defer close(s.lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			s.lines <- scanner.Text()
		}
	}()
	return s
}

func (s *terminalSource) RequestAnswer(ctx context.Context, q domain.Question, st app.NavigatorState) (domain.Answer, error) {
	fmt.Fprintf(s.out, "\n[%d/%d] %s\n", st.CurrentIndex+1, st.Total, q.Prompt)
	for i, opt := range q.Options {
		fmt.Fprintf(s.out, "  %d) %s\n", i+1, opt)
	}
	switch q.Type {
	case domain.MCQMultiple:
		fmt.Fprint(s.out, "choices (e.g. 1,3): ")
	case domain.MCQSingle:
		fmt.Fprint(s.out, "choice: ")
	default:
		fmt.Fprint(s.out, "answer: ")
	}

	for {
		select {
		case <-ctx.Done():
			return domain.Answer{}, domain.E(domain.KindCancelled, "take", "", ctx.Err())
		case line, ok := <-s.lines:
			if !ok {
				return domain.Answer{}, domain.E(domain.KindCancelled, "take", "input closed", nil)
			}
			if strings.TrimSpace(line) == quitCommand {
				return domain.Answer{}, domain.E(domain.KindCancelled, "take", "stopped", nil)
			}
			answer, err := parseTerminalAnswer(q, line)
			if err != nil {
				fmt.Fprintf(s.out, "%v, try again: ", err)
				continue
			}
			return answer, nil
		}
	}
}

// parseTerminalAnswer maps 1-based option numbers or free text to an Answer.
func parseTerminalAnswer(q domain.Question, line string) (domain.Answer, error) {
	line = strings.TrimSpace(line)
	switch q.Type {
	case domain.MCQSingle:
		n, err := strconv.Atoi(line)
		if err != nil {
			return domain.Answer{}, fmt.Errorf("enter an option number")
		}
		return domain.SingleAnswer(n - 1), nil
	case domain.MCQMultiple:
		var picks []int
		for _, field := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' }) {
			n, err := strconv.Atoi(field)
			if err != nil {
				return domain.Answer{}, fmt.Errorf("%q is not an option number", field)
			}
			picks = append(picks, n-1)
		}
		if len(picks) == 0 {
			return domain.Answer{}, fmt.Errorf("pick at least one option")
		}
		sort.Ints(picks)
		return domain.MultipleAnswer(picks...), nil
	default:
		return domain.TextAnswer(line), nil
	}
}

// terminalView prints timer bands, generation progress and errors.
type terminalView struct {
	mu   sync.Mutex
	out  io.Writer
	band app.TimerBand
}

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out}
}

func (v *terminalView) OnStateChange(st app.NavigatorState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if st.TimerBand != v.band && st.TimeRemainingSeconds != nil {
		switch st.TimerBand {
		case app.TimerWarning:
			fmt.Fprintf(v.out, "\n%d seconds left\n", *st.TimeRemainingSeconds)
		case app.TimerCritical:
			fmt.Fprintf(v.out, "\nhurry: %d seconds left\n", *st.TimeRemainingSeconds)
		}
	}
	v.band = st.TimerBand
}

func (v *terminalView) OnProgress(stage app.ProgressStage, percent int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%-10s %3d%%\n", stage, percent)
}

func (v *terminalView) OnError(err domain.UserFacingError) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s: %s\n", err.Title, err.Message)
	for _, s := range err.Suggestions {
		fmt.Fprintf(v.out, "  - %s\n", s)
	}
}

type explainer interface {
	Explain(ctx context.Context, q domain.Question, answer *domain.Answer, correct bool) string
}

func printResult(ctx context.Context, out io.Writer, quiz domain.Quiz, result domain.Result, ex explainer) {
	if result.Metadata.CompletionReason == domain.CompletionTimeExpired {
		fmt.Fprintln(out, "\ntime is up")
	}
	fmt.Fprintf(out, "\nscore: %d%% (%d/%d) in %ds\n", result.ScorePercent, result.CorrectCount, result.TotalQuestions, result.TimeSpentSeconds)
	for i, rec := range result.Answers {
		q, ok := quiz.Question(rec.QuestionID)
		if !ok {
			continue
		}
		mark := "wrong"
		if rec.Correct {
			mark = "right"
		}
		answer := "(no answer)"
		if rec.UserAnswer != nil {
			answer = describeAnswer(q, *rec.UserAnswer)
		}
		fmt.Fprintf(out, "%d. %s [%s] %s\n", i+1, q.Prompt, mark, answer)
		if !quiz.Settings.ShowExplanations || ex == nil {
			continue
		}
		text := rec.ExplanationText
		if text == "" {
			text = ex.Explain(ctx, q, rec.UserAnswer, rec.Correct)
		}
		if text != "" {
			fmt.Fprintf(out, "   %s\n", text)
		}
	}
}

// describeAnswer shows chosen options by their text.
func describeAnswer(q domain.Question, a domain.Answer) string {
	option := func(i int) string {
		if i >= 0 && i < len(q.Options) {
			return q.Options[i]
		}
		return strconv.Itoa(i + 1)
	}
	switch a.Type {
	case domain.MCQSingle:
		return option(a.Index)
	case domain.MCQMultiple:
		parts := make([]string, len(a.Indices))
		for i, idx := range a.Indices {
			parts[i] = option(idx)
		}
		return strings.Join(parts, ", ")
	}
	return a.String()
}

func printQuotaEvents(out io.Writer, events <-chan llm.QuotaEvent) {
	for ev := range events {
		switch ev.Kind {
		case llm.QuotaWarning, llm.QuotaCritical:
			fmt.Fprintf(out, "AI quota for %s at %.0f%%\n", ev.Service, ev.UsageFraction*100)
		case llm.QuotaExceeded:
			fmt.Fprintf(out, "AI quota for %s exhausted\n", ev.Service)
		}
	}
}
