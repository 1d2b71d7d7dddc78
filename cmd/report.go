package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/astoria-ai/interview-conductor/internal/checkpoint"
	"github.com/astoria-ai/interview-conductor/internal/logger"
	"github.com/astoria-ai/interview-conductor/internal/session"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the final evaluation of a finished session",
	Run: func(cmd *cobra.Command, _ []string) {
		report(cmd)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringP("session", "s", "", "session id to report on (required)")
	reportCmd.Flags().StringP("format", "f", "", "output format: table, plain or json (default: table on a terminal, plain otherwise)")
	_ = reportCmd.MarkFlagRequired("session")
}

func report(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	store, err := checkpoint.Open(storePath(config))
	if err != nil {
		logger.Fatal("opening checkpoint store", zap.Error(err))
	}
	defer store.Close()

	id := cmd.Flag("session").Value.String()
	sess, err := store.Load(ctx, id)
	if err != nil {
		logger.Fatal("loading session", zap.String("session_id", id), zap.Error(err))
	}

	if !sess.Terminal() {
		logger.Fatal("session is not finished",
			zap.String("session_id", id),
			zap.String("phase", string(sess.Resume)),
			zap.String("hint", fmt.Sprintf("resume with: %s run --session %s", app, id)),
		)
	}

	format := cmd.Flag("format").Value.String()
	if format == "" {
		format = autoFormat(os.Stdout)
	}

	if err := writeReport(os.Stdout, sess, format); err != nil {
		logger.Fatal("rendering the report", zap.Error(err))
	}
}

// autoFormat picks the table layout on a terminal and plain output when the
// destination is a pipe or a file.
func autoFormat(out *os.File) string {
	if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
		return "table"
	}
	return "plain"
}

// writeReport renders a finished session's evaluation in the requested
// format.
func writeReport(w io.Writer, sess *session.Session, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		return writeReportTable(w, sess)
	case "plain":
		return writeReportPlain(w, sess)
	case "json":
		return writeReportJSON(w, sess)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeReportTable(w io.Writer, sess *session.Session) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle("Interview report: %s (%s)", sess.Candidate, sess.ID)

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})

	tw.AppendHeader(table.Row{"Competency", "Average"})
	for _, competency := range sortedCompetencies(sess) {
		tw.AppendRow(table.Row{competency, fmt.Sprintf("%.2f", sess.Final.Averages[competency])})
	}
	if len(sess.Final.Averages) == 0 {
		tw.AppendRow(table.Row{"(no scored responses)", "-"})
	}
	tw.Render()

	if sess.Final.Narrative != "" {
		fmt.Fprintf(w, "\n%s\n", sess.Final.Narrative)
	}
	return nil
}

func writeReportPlain(w io.Writer, sess *session.Session) error {
	fmt.Fprintf(w, "session\t%s\ncandidate\t%s\n", sess.ID, sess.Candidate)
	for _, competency := range sortedCompetencies(sess) {
		fmt.Fprintf(w, "%s\t%.2f\n", competency, sess.Final.Averages[competency])
	}
	if sess.Final.Narrative != "" {
		fmt.Fprintf(w, "narrative\t%s\n", strings.ReplaceAll(sess.Final.Narrative, "\n", "\\n"))
	}
	return nil
}

func writeReportJSON(w io.Writer, sess *session.Session) error {
	payload := struct {
		SessionID string             `json:"session_id"`
		Candidate string             `json:"candidate"`
		Averages  map[string]float64 `json:"averages"`
		Narrative string             `json:"narrative"`
	}{
		SessionID: sess.ID,
		Candidate: sess.Candidate,
		Averages:  sess.Final.Averages,
		Narrative: sess.Final.Narrative,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func sortedCompetencies(sess *session.Session) []string {
	competencies := make([]string, 0, len(sess.Final.Averages))
	for competency := range sess.Final.Averages {
		competencies = append(competencies, competency)
	}
	sort.Strings(competencies)
	return competencies
}
