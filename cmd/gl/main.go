package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigledger/internal/app"
	"gigledger/internal/config"
	"gigledger/internal/db"
	"gigledger/internal/dispatch"
	"gigledger/internal/domain"
	"gigledger/internal/engine"
	"gigledger/internal/ledger"
	"gigledger/internal/migrate"
	"gigledger/internal/ratelimit"
	"gigledger/internal/repo"
	"gigledger/internal/retry"
	"gigledger/internal/server"
	"gigledger/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gigledger CLI",
	Long: `Gigledger tracks freelance work items from discovery to settlement.
Core concepts:
- Workspace: your .gigledger directory with the database; gigledger.yml overrides stored config.
- Work items: jobs discovered on platforms (upwork, fiverr, ...), keyed by platform + job id.
- Scoring: a fit score attached to a discovered item decides dispatch order.
- Proposals: bids drafted and submitted against items; submission consumes rate-limit quota.
- Contracts: accepted proposals become contracts that progress to delivered and completed.
- Ledger: immutable earnings and costs; worker counters are a cache rebuilt by replay.
- Experiments: proposal variants with traffic weights and per-variant rollups.
- Event log: diary of changes, view with 'gl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("GIGLEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(limitsCmd())
	rootCmd.AddCommand(experimentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready at %s\n", db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountWorkItemsByStatus(ctx)
				if err != nil {
					return err
				}
				schema, err := migrate.Version(r.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"schema_version": schema, "items_by_status": counts})
				}
				fmt.Printf("Schema version: %d\n", schema)
				fmt.Println("Work items:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func workerCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "worker",
		Short: "Manage workers",
		Long:  "Workers are the autonomous bidders. Their counters (earnings, profit, jobs completed/failed) are a cache over the ledger and contract history; 'gl worker rebuild' recomputes them by replay.",
	}
	w.AddCommand(workerCreateCmd())
	w.AddCommand(workerListCmd())
	w.AddCommand(workerGetCmd())
	w.AddCommand(workerSummaryCmd())
	w.AddCommand(workerRebuildCmd())
	w.AddCommand(workerReconcileCmd())
	w.AddCommand(workerDeleteCmd())
	return w
}

func workerCreateCmd() *cobra.Command {
	var opts engine.WorkerCreateOptions
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Capabilities = capabilities
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorker(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "worker name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "worker email")
	cmd.Flags().StringArrayVar(&capabilities, "capability", []string{}, "capability (repeatable)")
	cmd.Flags().Int64Var(&opts.HourlyRateCents, "hourly-rate-cents", 0, "hourly rate in cents")
	cmd.Flags().Int64Var(&opts.MinProjectCents, "min-project-cents", 0, "minimum project budget in cents")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func workerListCmd() *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				workers, err := r.ListWorkers(ctx, includeDeleted)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(workers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Completed", "Failed", "Success", "Earnings", "Profit"})
				for _, w := range workers {
					tw.AppendRow(table.Row{
						w.ID, w.Name, w.JobsCompleted, w.JobsFailed,
						fmt.Sprintf("%.0f%%", w.SuccessRate*100),
						formatCents(w.TotalEarningsCents),
						formatCents(w.NetProfitCents),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include retired workers")
	return cmd
}

func workerGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				w, err := r.GetWorker(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workerSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <id>",
		Short: "Financial summary derived from the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				s, err := l.Summary(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func workerRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild <id>",
		Short: "Rebuild worker counters from ledger and contract history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				w, err := l.Rebuild(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workerReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <id>",
		Short: "Compare cached counters against a replay without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				rec, err := l.Reconcile(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				if rec.Consistent {
					fmt.Println("counters consistent with ledger replay")
					return nil
				}
				fmt.Printf("drift detected: earnings cached=%s derived=%s, profit cached=%s derived=%s, completed %d/%d, failed %d/%d\n",
					formatCents(rec.CachedEarningsCents), formatCents(rec.DerivedEarningsCents),
					formatCents(rec.CachedProfitCents), formatCents(rec.DerivedProfitCents),
					rec.CachedJobsCompleted, rec.DerivedJobsCompleted,
					rec.CachedJobsFailed, rec.DerivedJobsFailed)
				return nil
			})
		},
	}
	return cmd
}

func workerDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Retire a worker (soft delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SoftDeleteWorker(ctx, args[0], time.Now().UTC().Format(time.RFC3339))
			})
		},
	}
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage work items",
		Long:  "Work items flow discovered -> scored -> queued -> applied -> won -> in_progress -> delivered -> completed, with rejected/expired/cancelled as exits. Ingest is idempotent on platform + job id.",
	}
	item.AddCommand(itemIngestCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemGetCmd())
	item.AddCommand(itemScoreCmd())
	item.AddCommand(itemTransitionCmd())
	item.AddCommand(itemEligibleCmd())
	return item
}

func itemIngestCmd() *cobra.Command {
	var in domain.WorkItem
	var sourceURL, clientName, clientCountry, rawJSON, postedAt, expiresAt string
	var budgetMin, budgetMax int64
	var clientRating float64
	var skills []string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a discovered work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.SourceURL = optionalString(sourceURL)
			in.ClientName = optionalString(clientName)
			in.ClientCountry = optionalString(clientCountry)
			in.RawJSON = optionalString(rawJSON)
			in.PostedAt = optionalString(postedAt)
			in.ExpiresAt = optionalString(expiresAt)
			in.SkillsRequired = skills
			if cmd.Flags().Changed("budget-min-cents") {
				in.BudgetMinCents = &budgetMin
			}
			if cmd.Flags().Changed("budget-max-cents") {
				in.BudgetMaxCents = &budgetMax
			}
			if cmd.Flags().Changed("client-rating") {
				in.ClientRating = &clientRating
			}
			return withQueue(cmd.Context(), func(ctx context.Context, q *dispatch.Queue) error {
				item, outcome, err := q.Ingest(ctx, viper.GetString("actor-id"), in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"item": item, "outcome": outcome})
				}
				fmt.Printf("%s %s\n", outcome, item.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Platform, "platform", "", "source platform")
	cmd.Flags().StringVar(&in.PlatformJobID, "job-id", "", "platform job id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Currency, "currency", "", "budget currency")
	cmd.Flags().StringVar(&in.DiscoveredAt, "discovered-at", "", "discovery timestamp (RFC3339, defaults to now)")
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "source URL")
	cmd.Flags().StringVar(&clientName, "client-name", "", "client name")
	cmd.Flags().StringVar(&clientCountry, "client-country", "", "client country")
	cmd.Flags().Float64Var(&clientRating, "client-rating", 0, "client rating")
	cmd.Flags().Int64Var(&budgetMin, "budget-min-cents", 0, "budget floor in cents")
	cmd.Flags().Int64Var(&budgetMax, "budget-max-cents", 0, "budget ceiling in cents")
	cmd.Flags().StringArrayVar(&skills, "skill", []string{}, "required skill (repeatable)")
	cmd.Flags().IntVar(&in.ApplicantCount, "applicant-count", 0, "applicant count")
	cmd.Flags().StringVar(&postedAt, "posted-at", "", "posted timestamp (RFC3339)")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "expiry timestamp (RFC3339)")
	cmd.Flags().StringVar(&rawJSON, "raw-json", "", "raw platform payload JSON")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.WorkItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Platform", "Title", "Status", "Score"})
				for _, it := range items {
					score := ""
					if it.Score != nil {
						score = fmt.Sprintf("%.2f", *it.Score)
					}
					tw.AppendRow(table.Row{it.ID, it.Platform, it.Title, it.Status, score})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Platform, "platform", "", "platform filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func itemGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				it, err := r.GetWorkItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func itemScoreCmd() *cobra.Command {
	var score float64
	var breakdown string
	cmd := &cobra.Command{
		Use:   "score <id>",
		Short: "Attach a fit score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q *dispatch.Queue) error {
				it, err := q.ApplyScore(ctx, viper.GetString("actor-id"), args[0], score, optionalString(breakdown))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().Float64Var(&score, "score", 0, "fit score")
	cmd.Flags().StringVar(&breakdown, "breakdown-json", "", "score breakdown JSON")
	_ = cmd.MarkFlagRequired("score")
	return cmd
}

func itemTransitionCmd() *cobra.Command {
	var status, workerID string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Transition work item status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.TransitionWorkItem(ctx, args[0], domain.WorkItemStatus(status), engine.WorkItemTransitionOptions{
					WorkerID: workerID,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&workerID, "worker", "", "winning worker id (required for won)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func itemEligibleCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "eligible",
		Short: "List bid candidates in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q *dispatch.Queue) error {
				items, err := q.ListEligible(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Platform", "Title", "Score", "Discovered"})
				for _, it := range items {
					score := ""
					if it.Score != nil {
						score = fmt.Sprintf("%.2f", *it.Score)
					}
					tw.AppendRow(table.Row{it.ID, it.Platform, it.Title, score, it.DiscoveredAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max candidates (config default when 0)")
	return cmd
}

func proposalCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "proposal",
		Short: "Manage proposals",
		Long:  "Proposals are bids. Draft freely; submission consumes the platform's rate-limit quota and moves the item to applied. Accepting a proposal rejects its open siblings and opens a contract atomically.",
	}
	p.AddCommand(proposalDraftCmd())
	p.AddCommand(proposalListCmd())
	p.AddCommand(proposalSubmitCmd())
	p.AddCommand(proposalTransitionCmd())
	p.AddCommand(proposalAcceptCmd())
	return p
}

func proposalDraftCmd() *cobra.Command {
	var opts engine.ProposalDraftOptions
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Draft a proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.DraftProposal(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.WorkItemID, "item", "", "work item id")
	cmd.Flags().StringVar(&opts.WorkerID, "worker", "", "worker id")
	cmd.Flags().StringVar(&opts.CoverLetter, "cover-letter", "", "cover letter text")
	cmd.Flags().Int64Var(&opts.BidAmountCents, "bid-cents", 0, "bid amount in cents")
	cmd.Flags().StringVar(&opts.Experiment, "experiment", "", "experiment to assign a variant from")
	cmd.Flags().StringVar(&opts.VariantID, "variant", "", "explicit variant id (overrides experiment assignment)")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("worker")
	_ = cmd.MarkFlagRequired("bid-cents")
	return cmd
}

func proposalListCmd() *cobra.Command {
	var f repo.ProposalFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				proposals, err := r.ListProposals(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(proposals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Item", "Worker", "Status", "Bid"})
				for _, p := range proposals {
					tw.AppendRow(table.Row{p.ID, p.WorkItemID, p.WorkerID, p.Status, formatCents(p.BidAmountCents)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkItemID, "item", "", "work item filter")
	cmd.Flags().StringVar(&f.WorkerID, "worker", "", "worker filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func proposalSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a drafted proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SubmitProposal(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func proposalTransitionCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Transition proposal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.TransitionProposal(ctx, viper.GetString("actor-id"), args[0], domain.ProposalStatus(status))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func proposalAcceptCmd() *cobra.Command {
	var agreedCents int64
	var deadline string
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept a proposal and open its contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var c domain.Contract
				err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}, func() error {
					var acceptErr error
					c, acceptErr = e.AcceptProposal(ctx, args[0], engine.AcceptOptions{
						AgreedAmountCents: agreedCents,
						DeadlineAt:        optionalString(deadline),
						ActorID:           viper.GetString("actor-id"),
					})
					return acceptErr
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().Int64Var(&agreedCents, "agreed-cents", 0, "agreed amount in cents (defaults to the bid)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "contract deadline (RFC3339)")
	return cmd
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "contract",
		Short: "Manage contracts",
		Long:  "Contracts mirror their work item: delivery and completion flow back onto the item, and terminal outcomes fold into the worker's counters.",
	}
	c.AddCommand(contractListCmd())
	c.AddCommand(contractGetCmd())
	c.AddCommand(contractTransitionCmd())
	c.AddCommand(contractProgressCmd())
	c.AddCommand(contractRevisionCmd())
	c.AddCommand(contractOverdueCmd())
	return c
}

func contractOverdueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "List in-progress contracts past their deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				contracts, err := r.ListOverdueContracts(ctx, time.Now().UTC().Format(time.RFC3339))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(contracts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Item", "Worker", "Deadline", "Progress"})
				for _, c := range contracts {
					deadline := ""
					if c.DeadlineAt != nil {
						deadline = *c.DeadlineAt
					}
					tw.AppendRow(table.Row{c.ID, c.WorkItemID, c.WorkerID, deadline, fmt.Sprintf("%d%%", c.ProgressPct)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func contractListCmd() *cobra.Command {
	var f repo.ContractFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				contracts, err := r.ListContracts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(contracts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Item", "Worker", "Status", "Progress", "Amount"})
				for _, c := range contracts {
					tw.AppendRow(table.Row{
						c.ID, c.WorkItemID, c.WorkerID, c.Status,
						fmt.Sprintf("%d%%", c.ProgressPct),
						formatCents(c.AgreedAmountCents),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkerID, "worker", "", "worker filter")
	cmd.Flags().StringVar(&f.WorkItemID, "item", "", "work item filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func contractGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.GetContract(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contractTransitionCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Transition contract status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.TransitionContract(ctx, viper.GetString("actor-id"), args[0], domain.ContractStatus(status))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func contractProgressCmd() *cobra.Command {
	var pct int
	var hours float64
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Update contract progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateProgress(ctx, args[0], engine.ProgressOptions{
					ProgressPct: pct,
					HoursDelta:  hours,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().IntVar(&pct, "pct", 0, "progress percent (monotonic)")
	cmd.Flags().Float64Var(&hours, "hours", 0, "hours worked since last update")
	_ = cmd.MarkFlagRequired("pct")
	return cmd
}

func contractRevisionCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "revision <id>",
		Short: "Request a revision on a delivered contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RequestRevision(ctx, viper.GetString("actor-id"), args[0], note)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "revision note")
	return cmd
}

func ledgerCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "ledger",
		Short: "Record and inspect the financial ledger",
		Long:  "Ledger entries are immutable. Earnings carry gross, fees and a derived net; costs carry a category. Reports are derived straight from the entries.",
	}
	l.AddCommand(ledgerEarnCmd())
	l.AddCommand(ledgerCostCmd())
	l.AddCommand(ledgerListCmd())
	l.AddCommand(ledgerDailyCmd())
	l.AddCommand(ledgerPlatformsCmd())
	return l
}

func ledgerEarnCmd() *cobra.Command {
	var in ledger.EarningInput
	var contractID, platform string
	cmd := &cobra.Command{
		Use:   "earn",
		Short: "Record a settled earning",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ContractID = optionalString(contractID)
			in.Platform = optionalString(platform)
			return withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				entry, err := l.RecordEarning(ctx, viper.GetString("actor-id"), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&in.WorkerID, "worker", "", "worker id")
	cmd.Flags().StringVar(&contractID, "contract", "", "contract id")
	cmd.Flags().StringVar(&platform, "platform", "", "source platform")
	cmd.Flags().Int64Var(&in.GrossCents, "gross-cents", 0, "gross amount in cents")
	cmd.Flags().Int64Var(&in.PlatformFeeCents, "platform-fee-cents", 0, "platform fee in cents")
	cmd.Flags().Int64Var(&in.ProcessingFeeCents, "processing-fee-cents", 0, "processing fee in cents")
	cmd.Flags().StringVar(&in.Currency, "currency", "USD", "currency")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.OccurredAt, "occurred-at", "", "settlement timestamp (RFC3339, defaults to now)")
	_ = cmd.MarkFlagRequired("worker")
	_ = cmd.MarkFlagRequired("gross-cents")
	return cmd
}

func ledgerCostCmd() *cobra.Command {
	var in ledger.CostInput
	var contractID, platform string
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Record a cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ContractID = optionalString(contractID)
			in.Platform = optionalString(platform)
			return withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				entry, err := l.RecordCost(ctx, viper.GetString("actor-id"), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&in.WorkerID, "worker", "", "worker id")
	cmd.Flags().StringVar(&contractID, "contract", "", "contract id")
	cmd.Flags().StringVar(&platform, "platform", "", "platform the cost belongs to")
	cmd.Flags().Int64Var(&in.AmountCents, "amount-cents", 0, "cost amount in cents")
	cmd.Flags().StringVar(&in.Category, "category", "", "cost category (connects, subscription, tooling, ...)")
	cmd.Flags().StringVar(&in.Currency, "currency", "USD", "currency")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.OccurredAt, "occurred-at", "", "timestamp (RFC3339, defaults to now)")
	_ = cmd.MarkFlagRequired("worker")
	_ = cmd.MarkFlagRequired("amount-cents")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func ledgerListCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries in replay order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				entries, err := l.Entries(ctx, workerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Gross", "Net", "Occurred"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.Kind, formatCents(e.GrossCents), formatCents(e.NetCents), e.OccurredAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func ledgerDailyCmd() *cobra.Command {
	var workerID string
	var limit int
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Daily earning totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				rows, err := l.DailyEarnings(ctx, workerID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Day", "Gross", "Fees", "Net", "Entries"})
				for _, row := range rows {
					tw.AppendRow(table.Row{row.Day, formatCents(row.GrossCents), formatCents(row.FeeCents), formatCents(row.NetCents), row.EntryCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker filter")
	cmd.Flags().IntVar(&limit, "limit", 30, "max days")
	return cmd
}

func ledgerPlatformsCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "Settled position per platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, l *ledger.Ledger) error {
				rows, err := l.PlatformBalances(ctx, workerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Platform", "Earned", "Costs", "Net"})
				for _, row := range rows {
					tw.AppendRow(table.Row{row.Platform, formatCents(row.NetCents), formatCents(row.CostCents), formatCents(row.NetCents - row.CostCents)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker filter")
	return cmd
}

func limitsCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "limits",
		Short: "Inspect and exercise rate limits",
		Long:  "Fixed-window counters per platform and worker. A denied check consumes nothing; closed windows are purged lazily.",
	}
	l.AddCommand(limitsCheckCmd())
	l.AddCommand(limitsUsageCmd())
	l.AddCommand(limitsPurgeCmd())
	return l
}

func limitsCheckCmd() *cobra.Command {
	var platform, workerID, action string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Consume one unit of quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				remaining, err := e.Limiter.Allow(ctx, e.Config, platform, workerID, action)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"allowed": true, "remaining": remaining})
				}
				if remaining == ratelimit.Unbounded {
					fmt.Println("allowed (unbounded)")
				} else {
					fmt.Printf("allowed, %d remaining\n", remaining)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "platform id")
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	cmd.Flags().StringVar(&action, "action", "proposals", "action (proposals, messages, api_calls)")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func limitsUsageCmd() *cobra.Command {
	var scopeType, scopeID string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show counter windows for a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counters, err := e.Limiter.Usage(ctx, scopeType, scopeID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counters)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Limit", "Window start", "Seconds", "Count"})
				for _, c := range counters {
					tw.AppendRow(table.Row{c.LimitType, c.WindowStart, c.WindowSeconds, c.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scopeType, "scope-type", "worker", "scope type (worker, platform, global)")
	cmd.Flags().StringVar(&scopeID, "scope-id", "", "scope id")
	_ = cmd.MarkFlagRequired("scope-id")
	return cmd
}

func limitsPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop counters whose windows have closed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Limiter.Purge(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"purged": n})
				}
				fmt.Printf("purged %d counters\n", n)
				return nil
			})
		},
	}
	return cmd
}

func experimentCmd() *cobra.Command {
	exp := &cobra.Command{
		Use:   "experiment",
		Short: "Manage proposal experiments",
		Long:  "Experiments assign proposal variants by traffic weight. Rollups (impressions, conversions, revenue) are recomputed from proposal and ledger history.",
	}
	exp.AddCommand(experimentSyncCmd())
	exp.AddCommand(experimentListCmd())
	exp.AddCommand(experimentReportCmd())
	exp.AddCommand(experimentRecomputeCmd())
	return exp
}

func experimentSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile experiments with config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exps, err := e.SyncExperiments(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(exps)
			})
		},
	}
	return cmd
}

func experimentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				exps, err := r.ListExperiments(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(exps)
			})
		},
	}
	return cmd
}

func experimentReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <name>",
		Short: "Experiment with per-variant rollups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.ExperimentReport(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Variant", "Impressions", "Conversions", "Revenue"})
				for _, res := range report.Results {
					tw.AppendRow(table.Row{res.VariantID, res.Impressions, res.Conversions, formatCents(res.RevenueCents)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func experimentRecomputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute <name>",
		Short: "Rebuild experiment rollups from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				results, err := e.RecomputeExperiment(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(results)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var cursor int64
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEventsFrom(ctx, n, cursor, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "resume after this sequence")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, metricsAddr string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GIGLEDGER_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" && !allowLegacyHeader {
				return fmt.Errorf("GIGLEDGER_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header for local use)")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				Queue:    dispatch.New(conn),
				Ledger:   ledger.New(conn),
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				telemetry.StartMetricsServer(cmd.Context(), metricsAddr, slog.Default())
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gigledger API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "separate Prometheus listen address (empty disables)")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-actor-header", false, "accept X-Actor-Id without a token (local use)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(ctx, workspace, repo.Repo{DB: conn})
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withQueue(ctx context.Context, fn func(context.Context, *dispatch.Queue) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, dispatch.New(conn))
}

func withLedger(ctx context.Context, fn func(context.Context, *ledger.Ledger) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, ledger.New(conn))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}
