package main

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/scorito-extract/internal/assets"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Manage prompt templates and schemas",
}

var assetsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate the prompt and schema assets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Assets.Dir
		}

		set, err := assets.Load(dir)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), assetsTable(set))
		return nil
	},
}

var assetsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default prompts and schemas to a directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		force, _ := cmd.Flags().GetBool("force")

		written, err := assets.WriteDefaults(dir, force)
		if err != nil {
			return eris.Wrap(err, "assets init")
		}
		for _, p := range written {
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", p)
		}
		if len(written) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "All assets already exist; use --force to overwrite.")
		}
		return nil
	},
}

func assetsTable(set *assets.Set) string {
	templates := map[string]*assets.Template{
		assets.ExtractionPrompt:     set.Extraction,
		assets.ValidationPrompt:     set.Validation,
		assets.FinalizePrompt:       set.Finalize,
		assets.FinalizePlayerPrompt: set.FinalizePlayer,
	}

	rows := make([][]string, 0, len(assets.Files))
	for _, name := range assets.Files {
		detail := ""
		if t, ok := templates[name]; ok {
			ph := t.Placeholders()
			sort.Strings(ph)
			detail = fmt.Sprintf("%d placeholders %v", len(ph), ph)
		}
		rows = append(rows, []string{name, string(set.Sources[name]), detail})
	}
	return renderTable([]string{"Asset", "Source", "Detail"}, rows, nil)
}

func init() {
	assetsCheckCmd.Flags().String("dir", "", "assets directory (defaults to assets.dir)")

	assetsInitCmd.Flags().String("dir", "", "target directory (required)")
	assetsInitCmd.Flags().Bool("force", false, "overwrite existing files")
	_ = assetsInitCmd.MarkFlagRequired("dir")

	assetsCmd.AddCommand(assetsCheckCmd)
	assetsCmd.AddCommand(assetsInitCmd)
	rootCmd.AddCommand(assetsCmd)
}
