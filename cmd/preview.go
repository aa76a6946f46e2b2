package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-digest/digest"
	"github.com/dhcgn/mbox-digest/mbox"
	"github.com/dhcgn/mbox-digest/model"
	"github.com/dhcgn/mbox-digest/runner"
	"github.com/dhcgn/mbox-digest/stats"
)

// ExitError carries the process exit code of a failed subcommand.
type ExitError struct {
	Code runner.ExitCode
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

var reportFields = []string{"Sender", "Subject"}

// NewPreviewCommand lists what a run would put into the digest. Nothing is
// encrypted, sent or removed.
func NewPreviewCommand() *cobra.Command {
	var (
		reportDir string
		topN      int
	)

	previewCmd := &cobra.Command{
		Use:   "preview MBOX",
		Short: "List the mails that would go into the digest without sending anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return preview(cmd.OutOrStdout(), args[0], topN, reportDir)
		},
	}

	previewCmd.Flags().StringVarP(&reportDir, "output", "o", "", "Directory for CSV reports (optional)")
	previewCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display per field")

	return previewCmd
}

func preview(out io.Writer, path string, topN int, reportDir string) error {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return &ExitError{Code: runner.ExitMboxMissing, Err: fmt.Errorf("%s does not exist or is not a file", path)}
	}

	messages, err := mbox.Read(path, slog.Default())
	if err != nil {
		return &ExitError{Code: runner.ExitMailboxMalformed, Err: fmt.Errorf("could not read %s: %w", path, err)}
	}

	if len(messages) == 0 {
		fmt.Fprintln(out, runner.NoMailsMessage)
		return nil
	}

	data := pterm.TableData{{"#", "Date", "Sender", "Subject", "Lines"}}
	for i, m := range messages {
		data = append(data, []string{
			strconv.Itoa(i + 1),
			m.Date,
			m.Sender,
			m.Subject,
			strconv.Itoa(strings.Count(m.Body, "\n")),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}

	pterm.Info.WithWriter(out).Printfln("%d messages, digest of %d bytes", len(messages), len(digest.Compose(messages)))

	counter := countFields(messages)
	for _, field := range reportFields {
		pterm.DefaultSection.WithWriter(out).Printfln("Top %d %s", topN, field)
		for i, c := range stats.Top(counter[field], topN) {
			fmt.Fprintf(out, "%d. %s (%d)\n", i+1, c.Value, c.Count)
		}
	}

	if reportDir == "" {
		return nil
	}
	if err := saveCSVReports(counter, reportDir); err != nil {
		return fmt.Errorf("save CSV reports: %w", err)
	}
	fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
	return nil
}

func countFields(messages []model.Message) map[string]map[string]int {
	counter := make(map[string]map[string]int, len(reportFields))
	for _, field := range reportFields {
		counter[field] = make(map[string]int)
	}
	for _, m := range messages {
		if m.Sender != "" {
			counter["Sender"][m.Sender]++
		}
		if m.Subject != "" {
			counter["Subject"][m.Subject]++
		}
	}
	return counter
}

func saveCSVReports(counter map[string]map[string]int, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, field := range reportFields {
		path := filepath.Join(dir, fmt.Sprintf("report_%s.csv", strings.ToLower(field)))
		if err := writeCSV(path, stats.Top(counter[field], -1)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, counts []stats.Count) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, c := range counts {
		if err := writer.Write([]string{c.Value, strconv.Itoa(c.Count)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
