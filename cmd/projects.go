package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dept-delivery/finsheet/internal/store"
)

var projectsFlags struct {
	client string
	search string
	limit  int
	asJSON bool
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List ingested projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		projects, err := env.Store.ListProjects(ctx, store.ProjectFilter{
			ClientName: projectsFlags.client,
			Search:     projectsFlags.search,
			Limit:      projectsFlags.limit,
		})
		if err != nil {
			return err
		}

		if projectsFlags.asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(projects)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PROJECT ID\tCLIENT\tTITLE\tSOURCE\tINGESTED")
		for _, p := range projects {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\n",
				p.ProjectID, p.ClientName, p.ProjectTitle,
				p.SourceFile, p.SourceSheet,
				p.IngestedAt.Format("2006-01-02 15:04"),
			)
		}
		return tw.Flush()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show one project with its financial rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Store.GetProject(ctx, args[0])
		if err != nil {
			return err
		}
		if p == nil {
			return eris.Errorf("project %s not found", args[0])
		}

		detail := struct {
			Project     any `json:"project"`
			Allocations any `json:"allocations"`
			Actuals     any `json:"actuals"`
			Costs       any `json:"costs"`
		}{Project: p}

		if detail.Allocations, err = env.Store.ListAllocations(ctx, args[0]); err != nil {
			return err
		}
		if detail.Actuals, err = env.Store.ListActuals(ctx, args[0]); err != nil {
			return err
		}
		if detail.Costs, err = env.Store.ListCosts(ctx, args[0]); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	},
}

func init() {
	projectsCmd.Flags().StringVar(&projectsFlags.client, "client", "", "filter by client name")
	projectsCmd.Flags().StringVar(&projectsFlags.search, "q", "", "substring search over client, title, and scope")
	projectsCmd.Flags().IntVar(&projectsFlags.limit, "limit", 0, "max projects to list")
	projectsCmd.Flags().BoolVar(&projectsFlags.asJSON, "json", false, "emit JSON instead of a table")
	projectsCmd.AddCommand(projectShowCmd)
	rootCmd.AddCommand(projectsCmd)
}
