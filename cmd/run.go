package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/astoria-ai/interview-conductor/internal/bank"
	"github.com/astoria-ai/interview-conductor/internal/checkpoint"
	"github.com/astoria-ai/interview-conductor/internal/evaluator"
	"github.com/astoria-ai/interview-conductor/internal/flow"
	"github.com/astoria-ai/interview-conductor/internal/gateway"
	"github.com/astoria-ai/interview-conductor/internal/gateway/gemini"
	"github.com/astoria-ai/interview-conductor/internal/logger"
	"github.com/astoria-ai/interview-conductor/internal/secrets"
	"github.com/astoria-ai/interview-conductor/internal/session"
	"github.com/astoria-ai/interview-conductor/internal/tools"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptNewSession = "Start a new session"

	defaultStorePath = app + ".db"

	systemInstruction = "You are a professional interviewer. Stay concise, neutral and respectful, " +
		"and keep the conversation focused on the interview."
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start or resume an interview session on the console",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("session", "s", "", "session id to resume")
	runCmd.Flags().StringP("candidate", "c", "", "candidate name for a new session")
	runCmd.Flags().StringP("bank", "b", "", "interview script file. Overrides the 'bank' config key.")
	runCmd.Flags().StringP("rubric", "r", "", "standalone rubric file. Overrides the 'rubric' config key.")
	runCmd.Flags().BoolP("auto-new", "n", false, "start a new session without asking about resumable ones")

	viper.BindPFlag("bank", runCmd.Flags().Lookup("bank"))
	viper.BindPFlag("rubric", runCmd.Flags().Lookup("rubric"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the interview-conductor", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}

	script := loadScript(config, logger)

	store, err := checkpoint.Open(storePath(config))
	if err != nil {
		logger.Fatal("opening checkpoint store", zap.Error(err))
	}
	defer store.Close()

	controller, err := buildController(ctx, config, script, logger)
	if err != nil {
		logger.Fatal("building flow controller", zap.Error(err))
	}

	sess, fresh, err := selectSession(ctx, cmd, store)
	if err != nil {
		logger.Fatal("selecting a session", zap.Error(err))
	}

	if fresh {
		if err := controller.Start(ctx, sess); err != nil {
			logger.Fatal("starting the session", zap.Error(err))
		}
		if err := store.Save(ctx, sess); err != nil {
			logger.Fatal("saving the session", zap.Error(err))
		}
	}

	logger.Info("session ready",
		zap.String("session_id", sess.ID),
		zap.String("candidate", sess.Candidate),
		zap.String("phase", string(sess.Resume)),
		zap.Bool("new", fresh),
	)

	if err := console(ctx, controller, store, sess); err != nil {
		logger.Fatal("session failed", zap.Error(err))
	}

	if sess.Terminal() {
		fmt.Println()
		if err := writeReport(os.Stdout, sess, autoFormat(os.Stdout)); err != nil {
			logger.Fatal("rendering the report", zap.Error(err))
		}
		return
	}

	logger.Info("session suspended",
		zap.String("session_id", sess.ID),
		zap.String("hint", fmt.Sprintf("resume with: %s run --session %s", app, sess.ID)),
	)
}

// console prints assistant messages and feeds candidate lines to the
// controller until the session terminates or stdin closes. The session is
// checkpointed after every handled input.
func console(ctx context.Context, controller *flow.Controller, store *checkpoint.Store, sess *session.Session) error {
	printed := printNewMessages(sess, 0)

	scanner := bufio.NewScanner(os.Stdin)
	for !sess.Terminal() {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if err := controller.HandleInput(ctx, sess, input); err != nil {
			if errors.Is(err, flow.ErrTerminal) {
				break
			}
			return err
		}

		if err := store.Save(ctx, sess); err != nil {
			return fmt.Errorf("saving checkpoint: %w", err)
		}

		printed = printNewMessages(sess, printed)
	}

	return nil
}

// printNewMessages prints assistant messages with ordinal >= from and
// returns the next unprinted ordinal.
func printNewMessages(sess *session.Session, from int) int {
	for _, msg := range sess.Transcript {
		if msg.Ordinal < from || msg.Role != session.RoleAssistant {
			continue
		}
		fmt.Printf("\n%s\n\n", msg.Content)
	}
	return len(sess.Transcript)
}

func loadScript(config *Config, logger *zap.Logger) *bank.Bank {
	path := strings.TrimSpace(viper.GetString("bank"))
	if path == "" {
		path = strings.TrimSpace(config.Bank)
	}
	if path == "" {
		logger.Fatal("interview script is required",
			zap.String("hint", "set the 'bank' key in the configuration file or pass --bank"),
		)
	}

	script, err := bank.Load(path)
	if err != nil {
		logger.Fatal("loading interview script", zap.Error(err))
	}

	rubricPath := strings.TrimSpace(viper.GetString("rubric"))
	if rubricPath == "" {
		rubricPath = strings.TrimSpace(config.Rubric)
	}
	if rubricPath != "" {
		if err := script.LoadRubric(rubricPath); err != nil {
			logger.Fatal("loading rubric", zap.Error(err))
		}
	}

	logger.Info("loaded interview script",
		zap.String("file", path),
		zap.Int("questions", script.Len()),
		zap.Int("competencies", len(script.Rubric)),
	)
	return script
}

func storePath(config *Config) string {
	if path := strings.TrimSpace(config.Store); path != "" {
		return path
	}
	return defaultStorePath
}

func buildController(ctx context.Context, config *Config, script *bank.Bank, logger *zap.Logger) (*flow.Controller, error) {
	gw, err := newModelGateway(ctx, config.AI, logger)
	if err != nil {
		return nil, err
	}

	flowCfg := config.Flow
	if flowCfg == nil {
		flowCfg = &FlowConfig{}
	}

	maxLogLength := 0
	if config.AI != nil && config.AI.Gemini != nil {
		maxLogLength = config.AI.Gemini.MaxLogLength
	}

	var executor gateway.ToolExecutor
	if flowCfg.Tools {
		scriptTools := tools.New(script)
		gw.RegisterTools(scriptTools.Declarations())
		executor = scriptTools
		logger.Info("registered interview script tools", zap.Int("count", len(scriptTools.Declarations())))
	}

	return flow.New(flow.Deps{
		Bank:         script,
		Evaluator:    evaluator.New(gw, script.Rubric, logger, maxLogLength),
		Gateway:      gw,
		Tools:        executor,
		Logger:       logger,
		MaxFollowUps: flowCfg.MaxFollowUps,
		ToolBudget:   flowCfg.ToolBudget,
	}), nil
}

func newModelGateway(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (*gemini.Gateway, error) {
	if cfg == nil || cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required under the 'ai' key")
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set GEMINI_API_KEY, ai.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
	}

	gwLogger := logger.With(
		zap.String("provider", "gemini"),
		zap.String("model", cfg.Gemini.Model),
		zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries),
	)

	return gemini.New(ctx, apiKey, cfg.Gemini.Model, systemInstruction, cfg.Gemini.MaxRetries, gwLogger)
}

// selectSession resolves the session to drive: an explicit --session id, a
// fresh one under --auto-new, or an interactive pick between resumable
// checkpoints and a new session.
func selectSession(ctx context.Context, cmd *cobra.Command, store *checkpoint.Store) (*session.Session, bool, error) {
	if id := strings.TrimSpace(cmd.Flag("session").Value.String()); id != "" {
		sess, err := store.Load(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if sess.Terminal() {
			return nil, false, fmt.Errorf("session %s is already complete, see: %s report --session %s", id, app, id)
		}
		return sess, false, nil
	}

	if cmd.Flag("auto-new").Value.String() == "true" {
		sess, err := newSession(cmd)
		return sess, true, err
	}

	metas, err := store.List(ctx)
	if err != nil {
		return nil, false, err
	}

	resumable := make([]checkpoint.Meta, 0, len(metas))
	for _, m := range metas {
		if m.Phase != session.PhaseDone {
			resumable = append(resumable, m)
		}
	}

	if len(resumable) == 0 {
		sess, err := newSession(cmd)
		return sess, true, err
	}

	items := []string{PromptNewSession}
	for _, m := range resumable {
		items = append(items, fmt.Sprintf("%s / %s / %s / updated %s",
			m.ID, m.Candidate, m.Phase, m.UpdatedAt.Format("2006-01-02 15:04"),
		))
	}

	prompt := promptui.Select{
		Label: "Resume a suspended session or start a new one",
		Items: items,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		return nil, false, err
	}

	if idx == 0 {
		sess, err := newSession(cmd)
		return sess, true, err
	}

	sess, err := store.Load(ctx, resumable[idx-1].ID)
	return sess, false, err
}

func newSession(cmd *cobra.Command) (*session.Session, error) {
	candidate := strings.TrimSpace(cmd.Flag("candidate").Value.String())

	if candidate == "" && cmd.Flag("auto-new").Value.String() != "true" {
		prompt := promptui.Prompt{Label: "Candidate name"}
		name, err := prompt.Run()
		if err != nil {
			return nil, err
		}
		candidate = strings.TrimSpace(name)
	}

	return session.New(uuid.NewString(), candidate), nil
}
