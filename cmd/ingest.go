package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dept-delivery/finsheet/internal/model"
	"github.com/dept-delivery/finsheet/internal/workbook"
)

var ingestFlags struct {
	client      string
	title       string
	scope       string
	tags        []string
	sheets      []string
	mergeInto   string
	mergePolicy string
	uploadedBy  string
	meta        []string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <workbook.xlsx>",
	Short: "Ingest a planning workbook",
	Long:  "Classifies and ingests every selected sheet of the workbook. Sheets the classifier cannot type confidently are reported with their candidates; re-run with --sheet name:type to confirm.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		req, err := buildUploadRequest(args[0])
		if err != nil {
			return err
		}

		res, err := env.Orchestrator.Ingest(ctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return eris.Wrap(err, "encode result")
		}

		for _, sr := range res.Sheets {
			if sr.Status == string(model.IngestionStatusFailed) {
				return eris.Errorf("sheet %s failed: %s", sr.SheetName, sr.Error)
			}
		}
		return nil
	},
}

var sheetsCmd = &cobra.Command{
	Use:   "sheets <workbook.xlsx>",
	Short: "List the sheet names of a workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := workbook.SheetNames(args[0])
		if err != nil {
			return err
		}
		for _, n := range names {
			cmd.Println(n)
		}
		return nil
	},
}

func buildUploadRequest(path string) (model.UploadRequest, error) {
	req := model.UploadRequest{
		Path:             path,
		ClientName:       ingestFlags.client,
		ProjectTitle:     ingestFlags.title,
		ScopeDescription: ingestFlags.scope,
		ScopeTags:        ingestFlags.tags,
		MergeInto:        ingestFlags.mergeInto,
		MergePolicy:      model.MergePolicy(ingestFlags.mergePolicy),
		UploadedBy:       ingestFlags.uploadedBy,
	}

	switch req.MergePolicy {
	case model.MergePolicyNone, model.MergePolicyUnion, model.MergePolicyOverride:
	default:
		return req, eris.Errorf("unknown merge policy %q", ingestFlags.mergePolicy)
	}
	if req.MergePolicy != model.MergePolicyNone && req.MergeInto == "" {
		return req, eris.New("--merge-policy requires --merge-into")
	}

	for _, s := range ingestFlags.sheets {
		sel := model.SheetSelection{SheetName: s}
		if name, hint, ok := strings.Cut(s, ":"); ok {
			t := model.SheetType(hint)
			if !t.IsKnown() {
				return req, eris.Errorf("unknown sheet type %q in --sheet %s", hint, s)
			}
			sel = model.SheetSelection{SheetName: name, TypeHint: t}
		}
		req.Selections = append(req.Selections, sel)
	}

	for _, kv := range ingestFlags.meta {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return req, eris.Errorf("--meta must be key=value, got %q", kv)
		}
		if req.UserMetadata == nil {
			req.UserMetadata = map[string]string{}
		}
		req.UserMetadata[k] = v
	}

	return req, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFlags.client, "client", "", "client name (overrides the sheet metadata zone)")
	ingestCmd.Flags().StringVar(&ingestFlags.title, "title", "", "project title (overrides the sheet metadata zone)")
	ingestCmd.Flags().StringVar(&ingestFlags.scope, "scope", "", "free-text scope description stored with the project")
	ingestCmd.Flags().StringSliceVar(&ingestFlags.tags, "tag", nil, "scope tag (repeatable)")
	ingestCmd.Flags().StringSliceVar(&ingestFlags.sheets, "sheet", nil, "sheet to ingest, optionally name:type (repeatable; default all)")
	ingestCmd.Flags().StringVar(&ingestFlags.mergeInto, "merge-into", "", "merge all sheets into this existing project id")
	ingestCmd.Flags().StringVar(&ingestFlags.mergePolicy, "merge-policy", "", "union or override, for --merge-into conflicts")
	ingestCmd.Flags().StringVar(&ingestFlags.uploadedBy, "uploaded-by", "", "who uploaded the workbook, for the audit log")
	ingestCmd.Flags().StringSliceVar(&ingestFlags.meta, "meta", nil, "extra audit metadata key=value (repeatable)")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(sheetsCmd)
}
