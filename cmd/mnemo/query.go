package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/mnemo/internal/config"
	"github.com/thebtf/mnemo/internal/db/sqlite"
	"github.com/thebtf/mnemo/internal/search"
)

var (
	queryParams  search.Params
	queryTypes   string
	queryOrder   string
	queryFormat  string
	searchKind   string
	depthBefore  int
	depthAfter   int
	timelineMode string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search observations, sessions or prompts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(m *search.Manager) error {
			p := queryFlags(strings.Join(args, " "))
			var (
				results *search.Results
				err     error
			)
			switch searchKind {
			case "observations":
				results, err = m.SearchObservations(cmd.Context(), p)
			case "sessions":
				results, err = m.SearchSessions(cmd.Context(), p)
			case "prompts":
				results, err = m.SearchPrompts(cmd.Context(), p)
			default:
				return fmt.Errorf("unknown search kind %q", searchKind)
			}
			if err != nil {
				return err
			}
			return printJSON(results.Format(p.Format))
		})
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline <anchor|query>",
	Short: "Show records around an anchor (id, S<id>, T<epoch ms>, timestamp) or the best match for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd.Context(), func(m *search.Manager) error {
			arg := strings.Join(args, " ")
			if _, err := sqlite.ParseAnchor(arg); err == nil && timelineMode == "" {
				tl, err := m.Timeline(cmd.Context(), arg, depthBefore, depthAfter, queryParams.Project)
				if err != nil {
					return err
				}
				return printJSON(tl)
			}
			res, err := m.TimelineByQuery(cmd.Context(), search.TimelineMode(timelineMode), queryFlags(arg), depthBefore, depthAfter)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{searchCmd, timelineCmd} {
		cmd.Flags().StringVar(&queryParams.Project, "project", "", "Restrict to one project")
		cmd.Flags().StringVar(&queryTypes, "type", "", "Observation types, comma-separated")
		cmd.Flags().IntVar(&queryParams.Limit, "limit", 0, "Maximum results")
		rootCmd.AddCommand(cmd)
	}
	searchCmd.Flags().StringVar(&searchKind, "kind", "observations", "observations, sessions or prompts")
	searchCmd.Flags().StringVar(&queryOrder, "order", "", "relevance, date_desc or date_asc")
	searchCmd.Flags().StringVar(&queryFormat, "format", "index", "index or full")
	searchCmd.Flags().IntVar(&queryParams.Offset, "offset", 0, "Results to skip")

	timelineCmd.Flags().IntVar(&depthBefore, "before", search.DefaultDepthBefore, "Records before the anchor")
	timelineCmd.Flags().IntVar(&depthAfter, "after", search.DefaultDepthAfter, "Records after the anchor")
	timelineCmd.Flags().StringVar(&timelineMode, "mode", "", "Treat the argument as a query: auto or interactive")
}

func queryFlags(query string) search.Params {
	p := queryParams
	p.Query = query
	p.Types = search.SplitList(queryTypes)
	p.OrderBy = sqlite.OrderBy(queryOrder)
	p.Format = search.Format(queryFormat)
	return p
}

// withManager opens the store, and the semantic backend when enabled, for
// the duration of fn.
func withManager(ctx context.Context, fn func(*search.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, closeClient := connectVector(ctx, cfg)
	defer closeClient()

	return fn(search.NewManager(store, vectorClient(client), searchConfig(cfg)))
}

func searchConfig(cfg *config.Config) search.Config {
	return search.Config{
		RecencyWindow:      cfg.RecencyWindow(),
		BatchSize:          cfg.SemanticBatchSize,
		ContextSessions:    cfg.ContextSessionCount,
		ContextTokenBudget: cfg.ContextTokenBudget,
		DuplicateThreshold: cfg.ContextDedupeThreshold,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
