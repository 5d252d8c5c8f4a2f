package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bayline/internal/app"
	"bayline/internal/config"
	"bayline/internal/db"
	"bayline/internal/domain"
	"bayline/internal/engine"
	"bayline/internal/migrate"
	"bayline/internal/repo"
	"bayline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bayline CLI",
	Long: `Bayline schedules workshop bay work and settles supplier quotes.
Core concepts:
- Workspace: your .bayline directory holding the database; config lives in the DB and is imported explicitly.
- Company: the workshop tenant that owns bays, suppliers, and work orders.
- Work order: one job per (vehicle_type, company, stock, field) identity; re-sending the same identity edits the booking instead of duplicating it.
- Bay mode: the job holds a dated bay slot; overlapping slots are refused, back-to-back slots are fine.
- Supplier mode: the job fans out to invited suppliers, collects quotes, and exactly one winner is approved.
- Statuses: request -> accepted -> in_progress -> review -> completed, with rework loops and reject/rebook for bay bookings.
- Event log: diary of changes, view with 'bl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BAYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("company", "", "company id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("company", rootCmd.PersistentFlags().Lookup("company"))
}

func registerCommands() {
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(bayCmd())
	rootCmd.AddCommand(supplierCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(slotCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(serveCmd())
}

func companyCmd() *cobra.Command {
	c := &cobra.Command{Use: "company", Short: "Manage companies"}
	c.AddCommand(companyListCmd())
	c.AddCommand(companyCreateCmd())
	c.AddCommand(companyShowCmd())
	c.AddCommand(companyUseCmd())
	return c
}

func companyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCompanies(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func companyCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create company",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
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
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			c, err := e.InitCompany(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "company id")
	cmd.Flags().StringVar(&name, "name", "", "company name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func companyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("company")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Company.ID
				}
				c, err := e.Repo.GetCompany(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func companyUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current company for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			companyID := strings.TrimSpace(args[0])
			if companyID == "" {
				return fmt.Errorf("company id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "BAYLINE_COMPANY", companyID); err != nil {
				return err
			}
			fmt.Printf("Set BAYLINE_COMPANY=%s in %s/.env\n", companyID, workspace)
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect company config",
		Long:  "Config is the rulebook (stored in DB): company id, default bay hours, RBAC roles, and webhooks. Import from bayline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
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
		Short: "Validate workspace config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err == nil {
				err = cfg.Validate()
			}
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

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import company config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			companyID := cfg.Company.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if companyID == "" {
					companyID = e.Config.Company.ID
				}
				if err := e.ApplyConfig(ctx, companyID, cfg, viper.GetString("actor-id")); err != nil {
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

func configInitCmd() *cobra.Command {
	var companyID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter bayline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if companyID == "" {
				companyID = viper.GetString("company")
			}
			if companyID == "" {
				return fmt.Errorf("--id or --company required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(companyID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&companyID, "id", "", "company id")
	return cmd
}

func statusCmd() *cobra.Command {
	var companyID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show company status",
		Long:  "See the scoreboard for your company: work order counts by status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				companyID = strings.TrimSpace(companyID)
				if companyID == "" {
					companyID = e.Config.Company.ID
				}
				c, err := e.Repo.GetCompany(ctx, companyID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountWorkOrdersByStatus(ctx, companyID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"company_id":        c.ID,
						"status":            c.Status,
						"work_order_counts": counts,
					})
				}
				fmt.Printf("Company: %s (%s)\n", c.ID, c.Status)
				fmt.Println("Work orders:")
				for status, n := range counts {
					fmt.Printf("  %s: %d\n", status, n)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id")
	return cmd
}

func bayCmd() *cobra.Command {
	bay := &cobra.Command{
		Use:   "bay",
		Short: "Manage bays",
		Long:  "Bays are the physical workshop slots. Each bay has opening hours, a member list, holidays, and an allocation calendar.",
	}
	bay.AddCommand(bayCreateCmd())
	bay.AddCommand(bayListCmd())
	bay.AddCommand(bayShowCmd())
	bay.AddCommand(bayActiveCmd())
	bay.AddCommand(bayMemberCmd())
	bay.AddCommand(bayHolidayCmd())
	bay.AddCommand(bayCalendarCmd())
	return bay
}

func bayCreateCmd() *cobra.Command {
	var b domain.Bay
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create bay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if b.CompanyID == "" {
					b.CompanyID = e.Config.Company.ID
				}
				res, err := e.CreateBay(ctx, b, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&b.ID, "id", "", "bay id (optional)")
	cmd.Flags().StringVar(&b.CompanyID, "company", "", "company id")
	cmd.Flags().StringVar(&b.Name, "name", "", "bay name")
	cmd.Flags().StringVar(&b.OpenTime, "open", "", "opening time HH:mm (default from config)")
	cmd.Flags().StringVar(&b.CloseTime, "close", "", "closing time HH:mm (default from config)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func bayListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bays",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListBays(ctx, e.Config.Company.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Open", "Close", "Active"})
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.Name, b.OpenTime, b.CloseTime, b.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func bayShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show bay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Repo.GetBay(ctx, id)
				if err != nil {
					return err
				}
				members, err := e.Repo.ListBayMembers(ctx, id)
				if err != nil {
					return err
				}
				holidays, err := e.Repo.ListBayHolidays(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"bay":      b,
					"members":  members,
					"holidays": holidays,
				})
			})
		},
	}
	return cmd
}

func bayActiveCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "set-active <id>",
		Short: "Enable or disable a bay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetBayActive(ctx, id, active, viper.GetString("actor-id")); err != nil {
					return err
				}
				b, err := e.Repo.GetBay(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "active state")
	return cmd
}

func bayMemberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage bay members"}

	var addActor string
	add := &cobra.Command{
		Use:   "add <bay-id>",
		Short: "Add bay member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addActor == "" {
				return fmt.Errorf("--actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddBayMember(ctx, args[0], addActor, viper.GetString("actor-id"))
			})
		},
	}
	add.Flags().StringVar(&addActor, "actor", "", "actor id")

	var removeActor string
	remove := &cobra.Command{
		Use:   "remove <bay-id>",
		Short: "Remove bay member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if removeActor == "" {
				return fmt.Errorf("--actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveBayMember(ctx, args[0], removeActor, viper.GetString("actor-id"))
			})
		},
	}
	remove.Flags().StringVar(&removeActor, "actor", "", "actor id")

	member.AddCommand(add)
	member.AddCommand(remove)
	return member
}

func bayHolidayCmd() *cobra.Command {
	holiday := &cobra.Command{Use: "holiday", Short: "Manage bay holidays"}

	var date, reason string
	add := &cobra.Command{
		Use:   "add <bay-id>",
		Short: "Add bay holiday",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				return fmt.Errorf("--date required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddBayHoliday(ctx, domain.BayHoliday{
					BayID:  args[0],
					Date:   date,
					Reason: reason,
				}, viper.GetString("actor-id"))
			})
		},
	}
	add.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD")
	add.Flags().StringVar(&reason, "reason", "", "reason")

	var removeDate string
	remove := &cobra.Command{
		Use:   "remove <bay-id>",
		Short: "Remove bay holiday",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if removeDate == "" {
				return fmt.Errorf("--date required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveBayHoliday(ctx, args[0], removeDate, viper.GetString("actor-id"))
			})
		},
	}
	remove.Flags().StringVar(&removeDate, "date", "", "date YYYY-MM-DD")

	holiday.AddCommand(add)
	holiday.AddCommand(remove)
	return holiday
}

func bayCalendarCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "calendar <bay-id>",
		Short: "Show bay allocations for a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				return fmt.Errorf("--date required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAllocations(ctx, args[0], date)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Start", "End", "Work Order", "Status"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.StartTime, a.EndTime, a.WorkOrderID, a.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD")
	return cmd
}

func supplierCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "supplier",
		Short: "Manage suppliers",
		Long:  "Suppliers quote on supplier-mode work orders. Invite them, record their quotes, and approve exactly one winner.",
	}
	s.AddCommand(supplierCreateCmd())
	s.AddCommand(supplierListCmd())
	return s
}

func supplierCreateCmd() *cobra.Command {
	var s domain.Supplier
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create supplier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if s.CompanyID == "" {
					s.CompanyID = e.Config.Company.ID
				}
				res, err := e.CreateSupplier(ctx, s, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&s.ID, "id", "", "supplier id (optional)")
	cmd.Flags().StringVar(&s.CompanyID, "company", "", "company id")
	cmd.Flags().StringVar(&s.Name, "name", "", "supplier name")
	cmd.Flags().StringVar(&s.Contact, "contact", "", "contact")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func supplierListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suppliers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSuppliers(ctx, e.Config.Company.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Contact", "Active"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Contact, s.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{
		Use:   "order",
		Short: "Manage work orders",
		Long:  "Work orders are keyed by (vehicle_type, company, stock, field). Upserting the same identity edits the existing booking. Statuses flow request -> accepted -> in_progress -> review -> completed with rework and reject/rebook loops.",
	}
	order.AddCommand(orderUpsertCmd())
	order.AddCommand(orderListCmd())
	order.AddCommand(orderGetCmd())
	order.AddCommand(orderResolveCmd())
	order.AddCommand(orderAcceptCmd())
	order.AddCommand(orderRejectCmd())
	order.AddCommand(orderStartCmd())
	order.AddCommand(orderSheetCmd())
	order.AddCommand(orderCompleteCmd())
	order.AddCommand(orderReworkCmd())
	order.AddCommand(orderResumeCmd())
	order.AddCommand(orderRebookCmd())
	order.AddCommand(orderInviteCmd())
	order.AddCommand(orderRespondCmd())
	order.AddCommand(orderApproveCmd())
	return order
}

func orderUpsertCmd() *cobra.Command {
	var opts engine.WorkOrderUpsertOptions
	var vehicleType, mode string
	var suppliers []string
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or edit a work order by identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Identity.VehicleType = domain.VehicleType(vehicleType)
			opts.Mode = domain.Mode(mode)
			opts.SelectedSuppliers = suppliers
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.Identity.CompanyID == "" {
					opts.Identity.CompanyID = e.Config.Company.ID
				}
				w, created, err := e.UpsertWorkOrder(ctx, opts)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					if created {
						fmt.Println("created")
					} else {
						fmt.Println("updated")
					}
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&vehicleType, "vehicle-type", "", "inspection or tradein")
	cmd.Flags().StringVar(&opts.Identity.CompanyID, "company", "", "company id")
	cmd.Flags().Int64Var(&opts.Identity.VehicleStockID, "stock", 0, "vehicle stock id")
	cmd.Flags().StringVar(&opts.Identity.FieldID, "field", "", "field id")
	cmd.Flags().StringVar(&mode, "mode", "", "bay or supplier")
	cmd.Flags().StringVar(&opts.BayID, "bay", "", "bay id (bay mode)")
	cmd.Flags().StringVar(&opts.BookingDate, "date", "", "booking date YYYY-MM-DD (bay mode)")
	cmd.Flags().StringVar(&opts.StartTime, "start", "", "start time HH:mm (bay mode)")
	cmd.Flags().StringVar(&opts.EndTime, "end", "", "end time HH:mm (bay mode)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringArrayVar(&suppliers, "supplier", []string{}, "invited supplier id (repeatable, supplier mode)")
	_ = cmd.MarkFlagRequired("vehicle-type")
	_ = cmd.MarkFlagRequired("stock")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("mode")
	return cmd
}

func orderListCmd() *cobra.Command {
	var f repo.WorkOrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.CompanyID == "" {
					f.CompanyID = e.Config.Company.ID
				}
				items, err := e.Repo.ListWorkOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Stock", "Field", "Mode", "Status"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Identity.VehicleType, w.Identity.VehicleStockID, w.Identity.FieldID, w.Mode, w.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CompanyID, "company", "", "company id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Mode, "mode", "", "mode filter (bay, supplier)")
	cmd.Flags().StringVar(&f.BayID, "bay", "", "bay filter")
	return cmd
}

func orderGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkOrder(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func orderResolveCmd() *cobra.Command {
	var vehicleType, fieldID string
	var stockID int64
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve work order by identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.ResolveWorkOrder(ctx, domain.Identity{
					VehicleType:    domain.VehicleType(vehicleType),
					CompanyID:      e.Config.Company.ID,
					VehicleStockID: stockID,
					FieldID:        fieldID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&vehicleType, "vehicle-type", "", "inspection or tradein")
	cmd.Flags().Int64Var(&stockID, "stock", 0, "vehicle stock id")
	cmd.Flags().StringVar(&fieldID, "field", "", "field id")
	_ = cmd.MarkFlagRequired("vehicle-type")
	_ = cmd.MarkFlagRequired("stock")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func orderAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept bay booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.AcceptBooking(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func orderRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject bay booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.RejectBooking(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func orderStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.StartWork(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func orderSheetCmd() *cobra.Command {
	var sheetJSON string
	var submit bool
	cmd := &cobra.Command{
		Use:   "sheet <id>",
		Short: "Save or submit the comment sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sheetJSON == "" {
				return fmt.Errorf("--sheet-json required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.SaveCommentSheet(ctx, args[0], sheetJSON, submit, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&sheetJSON, "sheet-json", "", "comment sheet JSON")
	cmd.Flags().BoolVar(&submit, "submit", false, "submit for review")
	return cmd
}

func orderCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Sign off reviewed work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CompleteWork(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func orderReworkCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "rework <id>",
		Short: "Send reviewed work back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.RequestRework(ctx, args[0], note, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "feedback note for the executor")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func orderResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a reworked item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.ResumeWork(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func orderRebookCmd() *cobra.Command {
	var opts engine.RebookOptions
	cmd := &cobra.Command{
		Use:   "rebook <id>",
		Short: "Rebook a rejected bay booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.WorkOrderID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Rebook(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.BayID, "bay", "", "bay id")
	cmd.Flags().StringVar(&opts.BookingDate, "date", "", "booking date YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.StartTime, "start", "", "start time HH:mm")
	cmd.Flags().StringVar(&opts.EndTime, "end", "", "end time HH:mm")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("bay")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func orderInviteCmd() *cobra.Command {
	var suppliers []string
	cmd := &cobra.Command{
		Use:   "invite <id>",
		Short: "Invite suppliers to quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(suppliers) == 0 {
				return fmt.Errorf("--supplier required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.InviteSuppliers(ctx, args[0], suppliers, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringArrayVar(&suppliers, "supplier", []string{}, "supplier id (repeatable)")
	return cmd
}

func orderRespondCmd() *cobra.Command {
	var opts engine.ResponseOptions
	cmd := &cobra.Command{
		Use:   "respond <id>",
		Short: "Record a supplier quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.WorkOrderID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resp, err := e.RecordResponse(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SupplierID, "supplier", "", "supplier id")
	cmd.Flags().Int64Var(&opts.EstimatedCost, "cost", 0, "estimated cost in minor units")
	cmd.Flags().StringVar(&opts.EstimatedTime, "time", "", "estimated time, free form")
	cmd.Flags().StringVar(&opts.Comments, "comments", "", "comments")
	_ = cmd.MarkFlagRequired("supplier")
	_ = cmd.MarkFlagRequired("cost")
	return cmd
}

func orderApproveCmd() *cobra.Command {
	var supplierID string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a supplier quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if supplierID == "" {
				return fmt.Errorf("--supplier required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.ApproveSupplier(ctx, args[0], supplierID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&supplierID, "supplier", "", "supplier id")
	return cmd
}

func slotCmd() *cobra.Command {
	slot := &cobra.Command{Use: "slot", Short: "Bay slot queries"}
	slot.AddCommand(slotCheckCmd())
	return slot
}

func slotCheckCmd() *cobra.Command {
	var bayID, date, start, end string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a bay slot is free",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				available, err := e.CheckSlot(ctx, bayID, date, start, end)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"bay_id":       bayID,
						"booking_date": date,
						"start_time":   start,
						"end_time":     end,
						"available":    available,
					})
				}
				if available {
					fmt.Println("available")
				} else {
					fmt.Println("occupied")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bayID, "bay", "", "bay id")
	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD")
	cmd.Flags().StringVar(&start, "start", "", "start time HH:mm")
	cmd.Flags().StringVar(&end, "end", "", "end time HH:mm")
	_ = cmd.MarkFlagRequired("bay")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: bookings, transitions, quotes, approvals.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var action, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Company.ID, action, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&action, "action", "", "event action filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
		Long:  "API keys authenticate SDK and webhook callers. The raw key is shown once at creation; only its hash is stored.",
	}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyDeleteCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "blk_" + hex.EncodeToString(raw)
			k := domain.APIKey{
				ID:      uuid.NewString(),
				ActorID: actor,
				Name:    name,
				KeyHash: repo.HashAPIKey(secret),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, k); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": k.ID, "actor_id": k.ActorID, "key": secret})
				}
				fmt.Printf("Created key %s for %s\n", k.ID, k.ActorID)
				fmt.Printf("Secret (store it now, it is not shown again): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func keyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := e.WhoAmI(ctx, e.Config.Company.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	}
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.GrantRole(ctx, e.Config.Company.ID, viper.GetString("actor-id"), target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, e.Config.Company.ID, viper.GetString("actor-id"), target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
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
			_, cfg, err := app.ResolveCompanyAndConfig(cmd.Context(), workspace, viper.GetString("company"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("BAYLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("BAYLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Bayline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
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
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveCompanyAndConfig(ctx, workspace, viper.GetString("company"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
