package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scorito-extract/internal/assets"
	"github.com/sells-group/scorito-extract/internal/metrics"
	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/internal/pipeline"
)

var (
	extractDir        string
	extractStore      bool
	extractOutput     string
	extractThreshold  int
	extractMaxRetries int
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract players from every screenshot in a directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("threshold") {
			cfg.Workflow.Threshold = extractThreshold
		}
		if cmd.Flags().Changed("max-retries") {
			cfg.Workflow.MaxRetries = extractMaxRetries
		}
		cfg.Store.Enabled = storeEnabled(cfg, cmd.Flags().Changed("store"), extractStore)

		if err := cfg.Validate("extract"); err != nil {
			return err
		}
		if err := checkFormat(extractOutput); err != nil {
			return err
		}

		set, err := assets.Load(cfg.Assets.Dir)
		if err != nil {
			return eris.Wrap(err, "load assets")
		}

		sess := pipeline.NewSession(cfg)
		defer sess.Close()

		rec := metrics.New()
		driver, err := pipeline.NewDriver(cfg, set, sess, rec)
		if err != nil {
			return eris.Wrap(err, "build pipeline")
		}

		if cfg.Store.Enabled {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			driver.Sink = st
			driver.Runs = st
		}

		zap.L().Info("extract starting",
			zap.String("dir", extractDir),
			zap.Int("threshold", cfg.Workflow.Threshold),
			zap.Int("max_retries", cfg.Workflow.MaxRetries),
			zap.Bool("finalize", cfg.Finalize.Enabled),
			zap.Bool("store", cfg.Store.Enabled),
		)

		res := driver.Run(ctx, extractDir)

		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			zap.L().Warn("write metrics textfile failed", zap.Error(err))
		}

		if err := writeOutput(cmd.OutOrStdout(), extractOutput, res, func() []string {
			return extractTables(res)
		}); err != nil {
			return err
		}

		if res.DiscoveryError != "" {
			return eris.Errorf("extract: %s", res.DiscoveryError)
		}
		if res.Cancelled {
			return eris.New("extract: cancelled")
		}
		return nil
	},
}

func extractTables(res *model.BatchResult) []string {
	tables := []string{summaryTable(res)}
	if len(res.Images) > 0 {
		tables = append(tables, imagesTable(res.Images))
	}
	if len(res.Players) > 0 {
		tables = append(tables, playersTable(res.Players))
	}
	return tables
}

func init() {
	extractCmd.Flags().StringVar(&extractDir, "dir", "", "directory of screenshots (required)")
	extractCmd.Flags().BoolVar(&extractStore, "store", false, "upsert players into the configured store")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", formatTable, "output format: table, json or yaml")
	extractCmd.Flags().IntVar(&extractThreshold, "threshold", pipeline.DefaultThreshold, "minimum validation score to accept an extraction")
	extractCmd.Flags().IntVar(&extractMaxRetries, "max-retries", pipeline.DefaultMaxRetries, "extraction attempts per image")
	_ = extractCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(extractCmd)
}
