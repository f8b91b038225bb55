package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"spycats/internal/app"
	"spycats/internal/config"
	"spycats/internal/domain"
	"spycats/internal/engine"
	"spycats/internal/repo"
	"spycats/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "spycats",
	Short: "Spy Cat Agency CLI",
	Long: `Spy Cat Agency keeps records of cats, their missions and mission targets.
- Cats: agents with a breed checked against the breed catalog; only salary can change.
- Missions: one to three targets, at most one cat, completed once every target is.
- Targets: notes freeze once the target is completed; nothing changes after the mission completes.
- Workspace: directory holding spycats.yml and the .spycats database.
- Event log: every committed change, view with 'spycats log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describeError(err))
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SPYCATS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/spycats.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, console)")
	flags.String("db-driver", "", "database driver (sqlite, pgx)")
	flags.String("db-dsn", "", "database DSN")
	flags.String("breeds-api-key", "", "breed catalog API key")
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("database.driver", flags.Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", flags.Lookup("db-dsn"))
	_ = viper.BindPFlag("breeds.api_key", flags.Lookup("breeds-api-key"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(catCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(targetCmd())
	rootCmd.AddCommand(breedsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage spycats.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default spycats.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}
}

// --- cats ---

func catCmd() *cobra.Command {
	cat := &cobra.Command{
		Use:   "cat",
		Short: "Manage spy cats",
	}
	cat.AddCommand(catListCmd())
	cat.AddCommand(catShowCmd())
	cat.AddCommand(catCreateCmd())
	cat.AddCommand(catSalaryCmd())
	cat.AddCommand(catDeleteCmd())
	return cat
}

func catListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cats, err := e.ListCats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cats)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Breed", "Experience", "Salary", "Mission"})
				for _, c := range cats {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Breed, c.ExperienceYears, domain.FormatSalary(c.Salary), stringOrEmpty(c.MissionID)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func catShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <cat-id>",
		Short: "Show a cat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetCat(ctx, args[0])
				if err != nil {
					return err
				}
				return printCat(c)
			})
		},
	}
}

func catCreateCmd() *cobra.Command {
	var opts engine.CatCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a cat (breed is checked against the catalog)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCat(ctx, opts)
				if err != nil {
					return err
				}
				return printCat(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "cat name")
	cmd.Flags().IntVar(&opts.ExperienceYears, "experience", 0, "years of experience")
	cmd.Flags().StringVar(&opts.Breed, "breed", "", "breed")
	cmd.Flags().StringVar(&opts.Salary, "salary", "", "salary, e.g. 1500.00")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("breed")
	_ = cmd.MarkFlagRequired("salary")
	return cmd
}

func catSalaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "salary <cat-id> <salary>",
		Short: "Update a cat's salary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateCatSalary(ctx, engine.CatSalaryUpdate{ID: args[0], Fields: []string{"salary"}, Salary: args[1]})
				if err != nil {
					return err
				}
				return printCat(c)
			})
		},
	}
}

func catDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <cat-id>",
		Short: "Delete a cat and release its mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteCat(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// --- missions ---

func missionCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "mission",
		Short: "Manage missions",
	}
	m.AddCommand(missionListCmd())
	m.AddCommand(missionShowCmd())
	m.AddCommand(missionCreateCmd())
	m.AddCommand(missionDeleteCmd())
	m.AddCommand(missionAssignCmd())
	m.AddCommand(missionUnassignCmd())
	return m
}

func missionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				missions, err := e.ListMissions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(missions)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Cat", "Targets", "Completed"})
				for _, m := range missions {
					done := 0
					for _, t := range m.Targets {
						if t.IsCompleted {
							done++
						}
					}
					tw.AppendRow(table.Row{m.ID, stringOrEmpty(m.CatID), fmt.Sprintf("%d/%d", done, len(m.Targets)), m.IsCompleted})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func missionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show a mission with its targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.GetMission(ctx, args[0])
				if err != nil {
					return err
				}
				return printMission(m)
			})
		},
	}
}

func missionCreateCmd() *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a mission with 1-3 targets",
		Example: `  spycats mission create --target "Ivan Petrov:UA" --target "Anna Schmidt:DE:last seen in Berlin"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := make([]engine.TargetInput, 0, len(specs))
			for _, s := range specs {
				t, err := parseTargetSpec(s)
				if err != nil {
					return err
				}
				targets = append(targets, t)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CreateMission(ctx, targets)
				if err != nil {
					return err
				}
				return printMission(m)
			})
		},
	}
	cmd.Flags().StringArrayVar(&specs, "target", nil, "target as name:country[:notes] (repeatable)")
	return cmd
}

func parseTargetSpec(s string) (engine.TargetInput, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return engine.TargetInput{}, fmt.Errorf("invalid target %q: want name:country[:notes]", s)
	}
	t := engine.TargetInput{Name: strings.TrimSpace(parts[0]), Country: strings.TrimSpace(parts[1])}
	if len(parts) == 3 {
		t.Notes = parts[2]
	}
	return t, nil
}

func missionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <mission-id>",
		Short: "Delete an unassigned mission and its targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteMission(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func missionAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <mission-id> <cat-id>",
		Short: "Assign a free cat to a free mission",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AssignCat(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printMission(m)
			})
		},
	}
}

func missionUnassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unassign <mission-id>",
		Short: "Release the mission's cat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.UnassignCat(ctx, args[0])
				if err != nil {
					return err
				}
				return printMission(m)
			})
		},
	}
}

// --- targets ---

func targetCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "target",
		Short: "Inspect and update mission targets",
	}
	t.AddCommand(targetShowCmd())
	t.AddCommand(targetUpdateCmd())
	return t
}

func targetShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <target-id>",
		Short: "Show a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTarget(ctx, args[0])
				if err != nil {
					return err
				}
				return printTarget(t)
			})
		},
	}
}

func targetUpdateCmd() *cobra.Command {
	var name, country, notes string
	var complete bool
	cmd := &cobra.Command{
		Use:   "update <target-id>",
		Short: "Update a target; notes freeze once it is completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch engine.TargetPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("country") {
				patch.Country = &country
			}
			if cmd.Flags().Changed("notes") {
				patch.Notes = &notes
			}
			if cmd.Flags().Changed("complete") {
				patch.IsCompleted = &complete
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTarget(ctx, args[0], patch)
				if err != nil {
					return err
				}
				return printTarget(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "target name")
	cmd.Flags().StringVar(&country, "country", "", "target country")
	cmd.Flags().StringVar(&notes, "notes", "", "target notes")
	cmd.Flags().BoolVar(&complete, "complete", false, "mark the target completed")
	return cmd
}

// --- breeds ---

func breedsCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "breeds",
		Short: "Breed catalog",
	}
	b.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List breeds accepted by the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				names, err := e.ListBreeds(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(names)
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			})
		},
	})
	return b
}

// --- events ---

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every committed change to cats, missions and targets.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Payload"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind (cat, mission, target)")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				addr := a.Config.Server.Addr
				basePath := a.Config.Server.BasePath
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Logger:   a.Logger.Named("http"),
					Metrics:  a.Metrics,
				})
				if err != nil {
					return err
				}
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				hooks := a.Webhooks()
				hooksDone := make(chan struct{})
				if hooks.Enabled() {
					go func() {
						defer close(hooksDone)
						hooks.Run(ctx)
					}()
				} else {
					close(hooksDone)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
					defer stop()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving Spy Cat Agency API",
					zap.String("addr", addr),
					zap.String("base_path", basePath),
					zap.String("docs", "/docs"),
					zap.String("metrics", "/metrics"))
				err = srv.ListenAndServe()
				cancel()
				<-hooksDone
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().String("base-path", "", "API base path (overrides server.base_path)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	return cmd
}

// --- helpers ---

// loadConfig reads spycats.yml (or --config) and applies flag and
// SPYCATS_* environment overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	overrides := []struct {
		key string
		dst *string
	}{
		{"server.addr", &cfg.Server.Addr},
		{"server.base_path", &cfg.Server.BasePath},
		{"database.driver", &cfg.Database.Driver},
		{"database.dsn", &cfg.Database.DSN},
		{"breeds.url", &cfg.Breeds.URL},
		{"breeds.api_key", &cfg.Breeds.APIKey},
		{"log.level", &cfg.Log.Level},
		{"log.format", &cfg.Log.Format},
	}
	for _, o := range overrides {
		if v := viper.GetString(o.key); v != "" {
			*o.dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

// describeError prefixes engine rejections with their rule.
func describeError(err error) string {
	if ee, ok := engine.AsError(err); ok {
		return fmt.Sprintf("%s: %s", ee.Rule, ee.Error())
	}
	return err.Error()
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printCat(c domain.Cat) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", c.ID},
		{"Name", c.Name},
		{"Breed", c.Breed},
		{"Experience", c.ExperienceYears},
		{"Salary", domain.FormatSalary(c.Salary)},
		{"Mission", stringOrEmpty(c.MissionID)},
	})
	tw.Render()
	return nil
}

func printMission(m domain.Mission) error {
	if viper.GetBool("json") {
		return printJSON(m)
	}
	fmt.Printf("Mission %s  cat=%s  completed=%t\n", m.ID, stringOrEmpty(m.CatID), m.IsCompleted)
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Target", "Name", "Country", "Completed", "Notes"})
	for _, t := range m.Targets {
		tw.AppendRow(table.Row{t.Position, t.ID, t.Name, t.Country, t.IsCompleted, t.Notes})
	}
	tw.Render()
	return nil
}

func printTarget(t domain.Target) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", t.ID},
		{"Mission", t.MissionID},
		{"Name", t.Name},
		{"Country", t.Country},
		{"Completed", t.IsCompleted},
		{"Notes", t.Notes},
		{"Updated", t.UpdatedAt},
	})
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
