package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/filerag/internal/api"
	"github.com/kalambet/filerag/internal/config"
	"github.com/kalambet/filerag/internal/pipeline"
	"github.com/kalambet/filerag/internal/querylog"
	"github.com/kalambet/filerag/internal/registry"
	"github.com/kalambet/filerag/internal/remote"
)

// --- store ---

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Create, inspect or delete the document store",
}

var storeCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create the document store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		var name string
		if len(args) == 1 {
			name = args[0]
		}
		res := a.store.Create(name)
		if !res.Success {
			return fmt.Errorf("%s (%s)", res.Message, res.Name)
		}
		printSuccess("%s: %s", res.Message, res.Name)
		return nil
	},
}

var storeInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		info := a.store.Info(cmd.Context())
		if !info.Exists {
			printWarning("%s", info.Message)
			return nil
		}
		printStatus("Store", "%s", info.Name)
		printStatus("Created", "%s", info.CreatedAt)
		printStatus("Documents", "%d", info.DocumentCount)
		if info.Error != "" {
			printWarning("could not list documents: %s", info.Error)
			return nil
		}
		printStatus("Ready", "%d", len(a.registry.ReadyDocumentIDs(cmd.Context())))
		return nil
	},
}

var storeDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the store and every uploaded document",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes every uploaded document. Use --confirm to proceed.")
			return nil
		}

		a, err := openApp(true, false)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.store.Delete(cmd.Context())
		if !res.Success {
			return fmt.Errorf("%s", res.Message)
		}
		printSuccess("%s (%d documents removed)", res.Message, res.Deleted)
		return nil
	},
}

func init() {
	storeDeleteCmd.Flags().Bool("confirm", false, "confirm store deletion")
	storeCmd.AddCommand(storeCreateCmd, storeInfoCmd, storeDeleteCmd)
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage uploaded documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true, true)
		if err != nil {
			return err
		}
		defer a.Close()

		var docs []remote.DocumentHandle
		if ready, _ := cmd.Flags().GetBool("ready"); ready {
			docs = a.registry.ReadyDocuments(cmd.Context())
		} else if docs, err = a.registry.ListDocuments(cmd.Context()); err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Fprintln(stdout, "No documents uploaded.")
			return nil
		}
		for _, d := range docs {
			fmt.Fprintf(stdout, "%s  %s  %s\n",
				render(stepStyle, d.ID),
				d.DisplayName,
				render(dimStyle, string(d.State)),
			)
		}
		return nil
	},
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload one or more files and wait until they are ready",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true, true)
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := readItems(args)
		if err != nil {
			return err
		}

		if len(items) == 1 {
			it := items[0]
			printStep("Uploading %s...", it.DisplayName)
			res := a.registry.UploadDocument(cmd.Context(), it.Content, it.DisplayName, it.MIMEType)
			if !res.Success {
				return fmt.Errorf("%s", res.Message)
			}
			printSuccess("%s", res.Message)
			if res.Pages > 0 {
				printStatus("Pages", "%d", res.Pages)
			}
			return nil
		}

		printStep("Uploading %d files...", len(items))
		res := a.registry.BatchUpload(cmd.Context(), items)
		for _, d := range res.Details {
			if d.Success {
				printSuccess("%s: %s", d.File, d.Message)
			} else {
				printError("%s: %s", d.File, d.Message)
			}
		}
		printStatus("Uploaded", "%d of %d", res.Successful, res.Total)
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d uploads failed", res.Failed, res.Total)
		}
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true, true)
		if err != nil {
			return err
		}
		defer a.Close()

		res := a.registry.DeleteDocument(cmd.Context(), args[0])
		if !res.Success {
			return fmt.Errorf("%s", res.Message)
		}
		printSuccess("%s", res.Message)
		return nil
	},
}

var docsQueueCmd = &cobra.Command{
	Use:   "queue <file>...",
	Short: "Queue files for background upload by a running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := readItems(args)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		for _, it := range items {
			resp, err := client.post(cmd.Context(), "/uploads", documentBody(it))
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				printError("%s: %v", it.DisplayName, err)
				continue
			}
			printSuccess("Queued %s as job %s", it.DisplayName, result["id"])
		}
		return nil
	},
}

var docsJobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show the state of a queued upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/uploads/"+args[0])
		if err != nil {
			return err
		}
		var job struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			Attempts  int    `json:"attempts"`
			LastError string `json:"last_error"`
			Result    string `json:"result"`
		}
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printStatus("Job", "%s", job.ID)
		printStatus("Status", "%s", job.Status)
		printStatus("Attempts", "%d", job.Attempts)
		if job.Result != "" {
			printStatus("Result", "%s", job.Result)
		}
		if job.LastError != "" {
			printStatus("Last error", "%s", job.LastError)
		}
		return nil
	},
}

func init() {
	docsListCmd.Flags().Bool("ready", false, "only list documents that are ready to query")
	docsCmd.AddCommand(docsListCmd, docsUploadCmd, docsDeleteCmd, docsQueueCmd, docsJobCmd)
}

func readItems(paths []string) ([]registry.Item, error) {
	items := make([]registry.Item, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		name := filepath.Base(p)
		items = append(items, registry.Item{
			DisplayName: name,
			MIMEType:    registry.DetectMIMEType(name, content),
			Content:     content,
		})
	}
	return items, nil
}

func documentBody(it registry.Item) api.DocumentRequest {
	return api.DocumentRequest{
		DisplayName: it.DisplayName,
		MIMEType:    it.MIMEType,
		ContentB64:  base64.StdEncoding.EncodeToString(it.Content),
	}
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the uploaded documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		question := strings.Join(args, " ")

		a, err := openApp(true, true)
		if err != nil {
			return err
		}
		defer a.Close()

		resp := a.pipeline.Query(cmd.Context(), question)
		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		printAnswer(resp)
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("json", false, "print the full response as JSON")
}

func printAnswer(resp pipeline.Response) {
	d := pipeline.FormatForDisplay(resp)
	fmt.Fprintln(stdout, render(answerStyle, d.Message))
	if len(d.Sources) > 0 {
		fmt.Fprintln(stdout, render(labelStyle, "Sources:"))
		for _, s := range d.Sources {
			fmt.Fprintf(stdout, "  %d. %s\n", s.Index, s.Document)
		}
	}
	if resp.Found {
		printSuccess("Answer found in documents")
	} else {
		printWarning("Answer not found in documents")
	}
	if len(resp.Debug.NotReady) > 0 {
		printWarning("Skipped %d document(s) that are not ready", len(resp.Debug.NotReady))
	}
	printStatus("Query id", "%s", resp.ID)
}

// --- rate ---

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Rate an answer from 1 to 5",
	Example: `  filerag rate --question "What is the refund window?" --score 4
  filerag rate --query-id 1b4e... --question "..." --answer "..." --score 2 --note "missed a detail"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		question, _ := cmd.Flags().GetString("question")
		answer, _ := cmd.Flags().GetString("answer")
		note, _ := cmd.Flags().GetString("note")
		queryID, _ := cmd.Flags().GetString("query-id")
		score, _ := cmd.Flags().GetInt("score")

		if question == "" {
			return fmt.Errorf("--question is required")
		}

		a, err := openApp(false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.pipeline.SaveRating(querylog.Rating{
			QueryID:  queryID,
			Question: question,
			Answer:   answer,
			Score:    score,
			Note:     note,
		}); err != nil {
			return err
		}
		printSuccess("Rating saved (%d/5)", score)
		return nil
	},
}

func init() {
	rateCmd.Flags().String("question", "", "the question that was asked")
	rateCmd.Flags().String("answer", "", "the answer being rated")
	rateCmd.Flags().Int("score", 0, "rating from 1 to 5")
	rateCmd.Flags().String("note", "", "optional comment")
	rateCmd.Flags().String("query-id", "", "id printed by filerag ask")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show, count or clear the query log",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the query log",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		text, err := a.log.ReadAll()
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Fprintln(stdout)
		}
		return nil
	},
}

var historyCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count logged queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.log.CountQueries()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, n)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the query log and stored queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This clears the whole query history. Use --confirm to proceed.")
			return nil
		}

		a, err := openApp(false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.log.Reset(); err != nil {
			return err
		}
		if err := a.history.DeleteAllQueries(); err != nil {
			return err
		}
		printSuccess("Query history cleared")
		return nil
	},
}

func init() {
	historyClearCmd.Flags().Bool("confirm", false, "confirm clearing history")
	historyCmd.AddCommand(historyShowCmd, historyCountCmd, historyClearCmd)
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "List stored queries newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		a, err := openApp(false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.history.ListQueries(limit, offset)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(stdout, "No interactions found.")
			return nil
		}
		for _, q := range records {
			status := render(successStyle, "found")
			if !q.Found {
				status = render(warningStyle, "not found")
			}
			question := q.Question
			if len(question) > 80 {
				question = question[:80] + "..."
			}
			fmt.Fprintf(stdout, "%s  %s  %s  %s\n",
				render(stepStyle, shortID(q.ID)),
				q.CreatedAt.Local().Format(time.DateTime),
				status,
				question,
			)
		}
		return nil
	},
}

func init() {
	interactionsCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsCmd.Flags().Int("offset", 0, "number of interactions to skip")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", render(labelStyle, k.Key), k.Value, render(dimStyle, "("+k.EnvVar+")"))
		}
		key := "not set"
		if cfg.Gemini.APIKey != "" {
			key = "set"
		}
		fmt.Fprintf(stdout, "  %s = %s\n", render(labelStyle, "gemini.api_key"), key)
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
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
