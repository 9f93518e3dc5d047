package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/export"
	"github.com/sells-group/docflow/internal/model"
)

var (
	runProfile string
	runMode    string
	runModel   string
	runWorkers int
	runRepair  int
	runGroups  []string
	runOut     string
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Run one extraction from the command line",
	Long:  "Extracts structured data from the given files using a catalog profile. Files may be local paths, http(s):// or ftp:// URLs, or object store URIs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		req := &model.ExtractionRequest{
			ProfilePath: runProfile,
			Mode:        model.Mode(runMode),
			Model:       runModel,
			Workers:     runWorkers,
			Repair:      model.RepairConfig{MaxAttempts: runRepair},
		}

		if len(runGroups) > 0 {
			req.Mode = model.ModeGrouped
			for _, spec := range runGroups {
				group, err := parseGroup(spec)
				if err != nil {
					return err
				}
				req.Groups = append(req.Groups, group)
			}
		} else {
			if len(args) == 0 {
				return eris.New("at least one file argument is required")
			}
			for _, arg := range args {
				req.Files = append(req.Files, fileRef(arg))
			}
		}

		resp, err := env.Engine.Run(ctx, req)
		if err != nil {
			return eris.Wrap(err, "extraction")
		}

		zap.L().Info("extraction complete",
			zap.Bool("ok", resp.OK),
			zap.String("model", resp.Meta.Model),
			zap.Int("errors", len(resp.Errors)),
		)

		return writeResult(resp, runOut)
	},
}

// parseGroup parses an "id=file1,file2" group spec.
func parseGroup(spec string) (model.FileGroup, error) {
	id, files, ok := strings.Cut(spec, "=")
	if !ok || id == "" {
		return model.FileGroup{}, eris.Errorf("invalid group spec %q, want id=file1,file2", spec)
	}
	group := model.FileGroup{ID: id}
	for _, f := range strings.Split(files, ",") {
		if f = strings.TrimSpace(f); f != "" {
			group.Files = append(group.Files, fileRef(f))
		}
	}
	return group, nil
}

// fileRef classifies a command line file argument by its scheme.
func fileRef(arg string) model.FileRef {
	switch {
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"), strings.HasPrefix(arg, "ftp://"):
		return model.FileRef{Source: model.SourceURL, URL: arg}
	case strings.Contains(arg, "://"):
		return model.FileRef{Source: model.SourceObjectURI, ObjectURI: arg}
	default:
		return model.FileRef{Source: model.SourceLocalPath, Path: arg}
	}
}

// writeResult writes the envelope to path. A .xlsx extension selects
// the spreadsheet exporter; anything else gets indented JSON. An empty
// path writes JSON to stdout.
func writeResult(resp *model.Envelope, path string) error {
	if strings.HasSuffix(path, ".xlsx") {
		return export.Envelope(resp, path)
	}

	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "create output file")
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func init() {
	runCmd.Flags().StringVar(&runProfile, "profile", "", "profile path, optionally with /vN version (required)")
	runCmd.Flags().StringVar(&runMode, "mode", "single", "extraction mode: single, per_file, or grouped")
	runCmd.Flags().StringVar(&runModel, "model", "", "model override")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "worker pool size (default from config)")
	runCmd.Flags().IntVar(&runRepair, "repair-attempts", 0, "per-unit model attempt budget (default from config)")
	runCmd.Flags().StringArrayVar(&runGroups, "group", nil, "grouped mode: id=file1,file2 (repeatable)")
	runCmd.Flags().StringVar(&runOut, "out", "", "output path; .xlsx exports a spreadsheet, otherwise JSON (default stdout)")
	_ = runCmd.MarkFlagRequired("profile")
	rootCmd.AddCommand(runCmd)
}
