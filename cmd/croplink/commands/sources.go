package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/croplink/am"
	"github.com/teranos/croplink/display"
	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/sourcecfg"
)

// SourcesCmd groups source config commands
var SourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List loaded source configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var sourcesLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List enabled source configs and those rejected by validation",
	Long: `Load source configs from the configured store (sources.store = sql | dir)
exactly as the pipeline does and list what would be served. Configs that
fail validation are listed with every problem found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		store, err := newSourceStore(cfg, database, logger.Logger)
		if err != nil {
			return err
		}
		cache := sourcecfg.NewCache(store, sourcecfg.CacheOptions{Logger: logger.Logger})
		if err := cache.Refresh(cmd.Context()); err != nil {
			return errors.Wrap(err, "failed to load source configs")
		}
		return listSources(cmd.Context(), cmd.OutOrStdout(), cache, display.ShouldOutputJSON(cmd))
	},
}

func init() {
	SourcesCmd.AddCommand(sourcesLsCmd)
}

// newSourceStore returns the config store named by sources.store.
func newSourceStore(cfg *am.Config, database *sql.DB, log *zap.SugaredLogger) (sourcecfg.Store, error) {
	switch cfg.Sources.Store {
	case "dir":
		return sourcecfg.NewDirStore(cfg.Sources.Dir, log), nil
	case "sql", "":
		return sourcecfg.NewSQLStore(database), nil
	default:
		return nil, errors.NewInvalidRequestError("unknown sources.store %q", cfg.Sources.Store)
	}
}

func listSources(ctx context.Context, w io.Writer, cache *sourcecfg.Cache, asJSON bool) error {
	sources := cache.Sources(ctx)
	rejected := cache.Rejected(ctx)

	if asJSON {
		configs := make([]*sourcecfg.SourceConfig, 0, len(sources))
		for _, src := range sources {
			configs = append(configs, src.Config)
		}
		problems := make(map[string]string, len(rejected))
		for id, err := range rejected {
			problems[id] = err.Error()
		}
		return display.JSON(w, map[string]any{"sources": configs, "rejected": problems})
	}

	if len(sources) == 0 {
		fmt.Fprintln(w, "No enabled source configs")
	} else {
		data := pterm.TableData{{"SOURCE", "VERSION", "TENANT", "MODE", "TRIGGER", "STRATEGY", "LINKAGE"}}
		for _, src := range sources {
			c := src.Config
			trigger := c.Ingestion.Schedule
			if c.Ingestion.Mode == sourcecfg.ModeEventTriggered {
				trigger = c.Ingestion.LandingContainer + ":" + c.Ingestion.PathPattern.Template
			}
			links := make([]string, 0, len(c.Linkage))
			for _, l := range c.Linkage {
				links = append(links, string(l.Kind))
			}
			data = append(data, []string{
				c.SourceID,
				c.Version,
				c.TenantID,
				string(c.Ingestion.Mode),
				truncate(trigger, 48),
				string(c.Transformation.EffectiveStrategy()),
				strings.Join(links, ","),
			})
		}
		if err := display.Table(w, data); err != nil {
			return err
		}
	}

	if len(rejected) > 0 {
		fmt.Fprintf(w, "\nRejected (%d):\n", len(rejected))
		ids := make([]string, 0, len(rejected))
		for id := range rejected {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  ✗ %s: %v\n", id, rejected[id])
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
