package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/tabchat/internal/agent"
	"github.com/kalambet/tabchat/internal/config"
	"github.com/kalambet/tabchat/internal/ingest"
	"github.com/kalambet/tabchat/internal/memory"
	"github.com/kalambet/tabchat/internal/sqldb"
	"github.com/kalambet/tabchat/internal/tools"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load CSV and XLSX files into tabchat",
}

var ingestSQLCmd = &cobra.Command{
	Use:   "sql <path>",
	Short: "Write a file or a directory of files into a relational profile",
	Long: `Write a file or a directory of files into a relational profile.
Each file becomes one table named after the file.

Examples:
  tabchat ingest sql ./data
  tabchat ingest sql ./sales.xlsx --profile uploads --mode replace`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		profile, _ := cmd.Flags().GetString("profile")
		if profile == "" {
			profile = cfg.Relational.DefaultProfile
		}
		modeStr, _ := cmd.Flags().GetString("mode")
		if modeStr == "" {
			modeStr = cfg.Relational.WriteMode
		}
		mode, err := sqldb.ParseMode(modeStr)
		if err != nil {
			return err
		}
		skip, _ := cmd.Flags().GetBool("skip-unsupported")

		pipeline := ingest.NewSQLPipeline(cfg.Storage.DataDir, cfg.Ingest.ParseConcurrency)
		report, err := pipeline.Run(commandContext(cmd), args[0], ingest.SQLOptions{
			Profile:         profile,
			Mode:            mode,
			SkipUnsupported: skip,
		})
		if report != nil {
			for _, name := range report.Created {
				printSuccess("Created table %s", name)
			}
			for _, name := range report.Skipped {
				printWarning("Skipped %s", name)
			}
		}
		if err != nil {
			return err
		}
		printStatus("Profile", "%s", report.Profile)
		printStatus("Tables", "%s", strings.Join(report.Tables, ", "))
		return nil
	},
}

var ingestVectorCmd = &cobra.Command{
	Use:   "vector <file>",
	Short: "Embed every row of a file into a vector collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		collection, _ := cmd.Flags().GetString("collection")
		if collection == "" {
			collection = cfg.Vector.Collection
		}
		appendMode, _ := cmd.Flags().GetBool("append")

		printStep("Embedding rows of %s", args[0])
		report, err := a.vectorPipeline().Run(commandContext(cmd), args[0], collection, appendMode)
		if err != nil {
			return err
		}
		printSuccess("Stored %d rows from %s in %s (%d total)", report.Inserted, report.Source, report.Collection, report.Count)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file to the running server for background ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)

		resp, err := client.upload(ctx, args[0])
		if err != nil {
			return err
		}
		var result struct {
			Status  string `json:"status"`
			ID      string `json:"id"`
			File    string `json:"file"`
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result.Status != "queued" {
			return fmt.Errorf("upload rejected: %s", result.Message)
		}
		printSuccess("Queued %s as job %s", result.File, result.ID)

		wait, _ := cmd.Flags().GetDuration("wait")
		if wait <= 0 {
			return nil
		}
		status, lastErr, err := waitForJob(ctx, client, result.ID, wait)
		if err != nil {
			return err
		}
		switch status {
		case "completed":
			printSuccess("Ingested %s", result.File)
		case "failed":
			return fmt.Errorf("ingesting %s failed: %s", result.File, lastErr)
		default:
			printWarning("Job %s is still %s", result.ID, status)
		}
		return nil
	},
}

// waitForJob polls a job until it settles or timeout elapses.
func waitForJob(ctx context.Context, client *apiClient, id string, timeout time.Duration) (string, string, error) {
	deadline := time.Now().Add(timeout)
	for {
		resp, err := client.get(ctx, "/jobs/"+id)
		if err != nil {
			return "", "", err
		}
		var job struct {
			Status    string `json:"status"`
			LastError string `json:"last_error"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return "", "", err
		}
		if job.Status == "completed" || job.Status == "failed" || time.Now().After(deadline) {
			return job.Status, job.LastError, nil
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func init() {
	ingestSQLCmd.Flags().String("profile", "", "relational profile (default: relational.default_profile)")
	ingestSQLCmd.Flags().String("mode", "", "fail or replace when a table already exists (default: relational.write_mode)")
	ingestSQLCmd.Flags().Bool("skip-unsupported", false, "skip files that are not CSV or XLSX")
	ingestVectorCmd.Flags().String("collection", "", "vector collection (default: vector.collection)")
	ingestVectorCmd.Flags().Bool("append", false, "add rows to an existing collection")
	uploadCmd.Flags().Duration("wait", 0, "wait up to this long for the ingestion job to finish")

	ingestCmd.AddCommand(ingestSQLCmd)
	ingestCmd.AddCommand(ingestVectorCmd)
	ingestCmd.AddCommand(uploadCmd)
}

// --- tables / collections ---

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the tables of a relational profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		profile, _ := cmd.Flags().GetString("profile")
		if profile == "" {
			profile = cfg.Relational.DefaultProfile
		}
		db, err := sqldb.OpenExisting(cfg.Storage.DataDir, profile)
		if err != nil {
			return err
		}
		defer db.Close()

		tables, err := db.Tables(commandContext(cmd))
		if err != nil {
			return err
		}
		if len(tables) == 0 {
			fmt.Println("No tables found.")
			return nil
		}
		for _, t := range tables {
			fmt.Println(t)
		}
		return nil
	},
}

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List vector collections with their row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		cols, err := a.vectors.ListCollections(commandContext(cmd))
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			fmt.Println("No collections found.")
			return nil
		}
		for _, c := range cols {
			fmt.Printf("%s  %d rows  dim=%d\n", colorize(colorCyan, c.Name), c.Count, c.Dimension)
		}
		return nil
	},
}

func init() {
	tablesCmd.Flags().String("profile", "", "relational profile (default: relational.default_profile)")
}

// --- chat / history ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Ask a question about your tables",
	Long: `Ask a question about your tables. The turn is stored on the thread.

Examples:
  tabchat chat "How many people are older than 30?"
  tabchat chat --thread sales --tool sql_query "total revenue per region"
  tabchat chat --tool sql_query --profile uploads "how many rows did I upload?"
  tabchat chat --remote "what did I ask before?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		thread, _ := cmd.Flags().GetString("thread")
		tool, _ := cmd.Flags().GetString("tool")
		profile, _ := cmd.Flags().GetString("profile")
		remote, _ := cmd.Flags().GetBool("remote")
		ctx := commandContext(cmd)

		if remote {
			if tool != "" || profile != "" {
				return fmt.Errorf("--tool and --profile are not supported with --remote")
			}
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			return remoteChat(ctx, client, os.Stdout, thread, message)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if profile != "" && tool != tools.SQLToolName {
			return fmt.Errorf("--profile requires --tool %s", tools.SQLToolName)
		}
		var planner agent.Planner
		if tool != "" {
			if !a.registry.Has(tool) {
				return fmt.Errorf("unknown tool %q", tool)
			}
			planner = agent.FixedPlanner{Tool: tool, Profile: profile}
		}
		reply, err := a.orchestrator(planner).Respond(ctx, thread, message)
		if err != nil {
			return err
		}
		for _, inv := range reply.Invocations {
			if !inv.OK() {
				printWarning("%s failed: %s", inv.Tool, inv.Message)
			}
		}
		fmt.Println(reply.Response)
		return nil
	},
}

func remoteChat(ctx context.Context, client *apiClient, w io.Writer, thread, message string) error {
	resp, err := client.post(ctx, "/chat", map[string]string{"message": message, "thread_id": thread})
	if err != nil {
		return err
	}
	var reply struct {
		ThreadID string `json:"thread_id"`
		Response string `json:"response"`
	}
	if err := decodeJSON(resp, &reply); err != nil {
		return err
	}
	fmt.Fprintln(w, reply.Response)
	return nil
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the turns stored on a thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := commandContext(cmd)
		if list, _ := cmd.Flags().GetBool("list"); list {
			ids, err := a.threads.Threads(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		}

		thread, _ := cmd.Flags().GetString("thread")
		if thread == "" {
			thread = cfg.Agent.ThreadID
		}
		if err := memory.ValidateThreadID(thread); err != nil {
			return err
		}
		history, err := a.memory.History(ctx, thread)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(history)
		}
		printTurns(os.Stdout, history)
		return nil
	},
}

func printTurns(w io.Writer, history []memory.Turn) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No turns found.")
		return
	}
	for _, t := range history {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "you:"), t.UserMessage)
		fmt.Fprintf(w, "%s %s\n\n", colorize(colorCyan, "tabchat:"), t.AgentResponse)
	}
}

func init() {
	chatCmd.Flags().String("thread", "", "conversation thread (default: agent.thread_id)")
	chatCmd.Flags().String("tool", "", "always call this tool instead of letting the model choose")
	chatCmd.Flags().String("profile", "", "relational profile for --tool sql_query (e.g. uploads)")
	chatCmd.Flags().Bool("remote", false, "send the message to the running server")
	historyCmd.Flags().String("thread", "", "conversation thread (default: agent.thread_id)")
	historyCmd.Flags().Bool("list", false, "list thread ids instead")
	historyCmd.Flags().Bool("json", false, "print turns as JSON")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		printStatus("Config file", "%s", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys accepted by config set",
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range config.ValidKeys() {
			fmt.Println(k)
		}
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configKeysCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
