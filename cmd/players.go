package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/internal/pipeline"
	"github.com/sells-group/scorito-extract/internal/store"
)

var playersCmd = &cobra.Command{
	Use:   "players",
	Short: "Inspect and load stored players",
}

// -- players list --

var playersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored players",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if err := checkFormat(output); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		position, _ := cmd.Flags().GetString("position")
		team, _ := cmd.Flags().GetString("team")
		limit, _ := cmd.Flags().GetInt("limit")

		players, err := st.ListPlayers(ctx, store.PlayerFilter{Position: position, Team: team, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "players list")
		}
		if len(players) == 0 && output == formatTable {
			fmt.Fprintln(cmd.ErrOrStderr(), "No players found.")
			return nil
		}

		return writeOutput(cmd.OutOrStdout(), output, model.PlayerSet{Players: players}, func() []string {
			return []string{playersTable(players)}
		})
	},
}

// -- players import --

var playersImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Upsert players from a JSON or YAML file",
	Long:  `Reads a {"players": [...]} document, such as the JSON output of extract, and upserts it. Players without an id get one from their position and index.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		players, err := readPlayers(path)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertPlayers(ctx, pipeline.AssignIDs(players))
		if err != nil {
			return eris.Wrap(err, "players import")
		}

		zap.L().Info("import complete", zap.Int("players", n), zap.String("file", path))
		return nil
	},
}

// readPlayers decodes a players envelope from path. YAML is a superset of
// JSON, so one decoder reads both.
func readPlayers(path string) ([]model.PlayerRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var set model.PlayerSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, eris.Wrapf(err, "decode %s", path)
	}
	if len(set.Players) == 0 {
		return nil, eris.Errorf("%s contains no players", path)
	}
	return set.Players, nil
}

func init() {
	playersListCmd.Flags().String("position", "", "filter by position (case-insensitive)")
	playersListCmd.Flags().String("team", "", "filter by team (case-insensitive)")
	playersListCmd.Flags().Int("limit", 100, "max number of players to display")
	playersListCmd.Flags().StringP("output", "o", formatTable, "output format: table, json or yaml")

	playersImportCmd.Flags().String("file", "", "path to a JSON or YAML players file (required)")
	_ = playersImportCmd.MarkFlagRequired("file")

	playersCmd.AddCommand(playersListCmd)
	playersCmd.AddCommand(playersImportCmd)
	rootCmd.AddCommand(playersCmd)
}
