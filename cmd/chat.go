package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dept-delivery/finsheet/internal/chat"
)

var chatFlags struct {
	projectID   string
	allProjects bool
	askedBy     string
	history     int
}

// chatScope resolves the question's scope from the flags. The all-projects
// scope is never implied; the caller has to ask for it.
func chatScope() (string, error) {
	switch {
	case chatFlags.projectID != "" && chatFlags.allProjects:
		return "", eris.New("--project and --all are mutually exclusive")
	case chatFlags.projectID != "":
		return chatFlags.projectID, nil
	case chatFlags.allProjects:
		return chat.ScopeAll, nil
	}
	return "", eris.New("scope required: pass --project <id> or --all")
}

var chatCmd = &cobra.Command{
	Use:   "chat <question...>",
	Short: "Ask a question about ingested projects",
	Long:  "Answers from ingested project data only. --project scopes the question to one project; --all runs it against all projects via the content index. One of the two is required.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scope, err := chatScope()
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "chat")
		if err != nil {
			return err
		}
		defer env.Close()

		exchange, err := newAdvisor(env).Ask(ctx, chat.AskRequest{
			ProjectID: scope,
			Question:  strings.Join(args, " "),
			AskedBy:   chatFlags.askedBy,
		})
		if err != nil {
			return err
		}

		fmt.Println(exchange.Answer)
		return nil
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history <project-id>",
	Short: "Show recent chat exchanges for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		exchanges, err := env.Store.ListChatHistory(ctx, args[0], chatFlags.history)
		if err != nil {
			return err
		}
		for _, e := range exchanges {
			fmt.Printf("[%s] Q: %s\nA: %s\n\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Question, e.Answer)
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatFlags.projectID, "project", "", "scope the question to one project id")
	chatCmd.Flags().BoolVar(&chatFlags.allProjects, "all", false, "ask across all ingested projects")
	chatCmd.Flags().StringVar(&chatFlags.askedBy, "asked-by", "", "who is asking, for the chat log")
	chatHistoryCmd.Flags().IntVar(&chatFlags.history, "limit", 0, "max exchanges to show")
	chatCmd.AddCommand(chatHistoryCmd)
	rootCmd.AddCommand(chatCmd)
}
