package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docex/internal/api"
	"github.com/jackzampolin/docex/internal/pipeline"
	"github.com/jackzampolin/docex/internal/prompts"
	"github.com/jackzampolin/docex/internal/providers"
)

// ocrPlaceholder stands in for the transcription when --ocr-text is not given.
const ocrPlaceholder = "<transcribed text>"

var (
	promptTask    string
	promptMethod  string
	promptOCRText string
	promptWatch   bool
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print the exact prompt sent to the model",
	Long: `Render the extraction prompt for a task.

For two_step the text-model turns are printed, using --ocr-text as the
transcription. With --watch the prompt is re-rendered every time the schema
document changes.

Examples:
  docex prompt --task receipt
  docex prompt --task bank_stmt --method two_step --ocr-text page.txt
  docex prompt --task receipt --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		ocrText := ocrPlaceholder
		if promptOCRText != "" {
			b, err := os.ReadFile(promptOCRText)
			if err != nil {
				return fmt.Errorf("failed to read OCR text: %w", err)
			}
			ocrText = string(b)
		}

		render := func() error {
			msgs, err := renderPrompt(a.prompts, promptMethod, promptTask, ocrText)
			if err != nil {
				return err
			}
			return printPrompt(cmd.OutOrStdout(), msgs)
		}

		if !promptWatch {
			return render()
		}
		if a.schemas.Path() == "" {
			return errors.New("--watch needs a schema file; run 'docex config init' or set schema.path")
		}
		return watchFile(cmd.Context(), a.schemas.Path(), func() {
			if err := render(); err != nil {
				// Keep watching: the file may be mid-edit.
				logger.Error("failed to render prompt", "error", err)
			}
		})
	},
}

func renderPrompt(b *prompts.Builder, method, task, ocrText string) ([]providers.Message, error) {
	switch method {
	case pipeline.MethodOneStep:
		return b.ExtractionMessages(task, nil)
	case pipeline.MethodTwoStep:
		return b.BuildTextExtractionPrompt(task, ocrText)
	default:
		return nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownMethod, method)
	}
}

type promptTurn struct {
	Role    string `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// printPrompt writes the turns as plain text, or structured with --format json.
func printPrompt(w io.Writer, msgs []providers.Message) error {
	if api.GetOutputFormat() == api.OutputFormatJSON {
		turns := make([]promptTurn, len(msgs))
		for i, m := range msgs {
			turns[i] = promptTurn{Role: m.Role, Content: m.Content}
		}
		return api.OutputTo(w, api.OutputFormatJSON, turns)
	}

	if len(msgs) == 1 {
		_, err := fmt.Fprintln(w, msgs[0].Content)
		return err
	}
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "--- %s ---\n%s\n", strings.ToUpper(m.Role), m.Content)
	}
	return nil
}

// watchFile calls fn now and after every change to path, until ctx is done.
// The parent directory is watched so editors that replace the file on save
// are still seen.
func watchFile(ctx context.Context, path string, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	fn()
	logger.Info("watching schema", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			logger.Debug("schema changed", "op", event.Op.String())
			fn()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)
		}
	}
}

func init() {
	promptCmd.Flags().StringVar(&promptTask, "task", "", "task name from the schema document")
	promptCmd.Flags().StringVar(&promptMethod, "method", pipeline.MethodOneStep, "extraction method: one_step or two_step")
	promptCmd.Flags().StringVar(&promptOCRText, "ocr-text", "", "file holding a transcription to embed in the two_step prompt")
	promptCmd.Flags().BoolVar(&promptWatch, "watch", false, "re-render when the schema document changes")
	_ = promptCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(promptCmd)
}
