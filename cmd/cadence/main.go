package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ewhitley/cadence/internal/config"
	"github.com/ewhitley/cadence/internal/engine"
	"github.com/ewhitley/cadence/internal/source"
	"github.com/ewhitley/cadence/internal/store"
	"github.com/ewhitley/cadence/internal/watch"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cadence",
		Short: "Keep-in-touch sync engine",
		Long: `Cadence watches your local communication stores (calls, messages,
chat apps, email, calendar) and keeps track of when you last talked
to the people you care about, so nobody slips through the cracks.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	// version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("cadence %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	})

	// init command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Initialize cadence config and database",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK        bool   `json:"ok"`
				Message   string `json:"message,omitempty"`
				ConfigDir string `json:"config_dir,omitempty"`
				DataDir   string `json:"data_dir,omitempty"`
				DBPath    string `json:"db_path,omitempty"`
			}

			result := Result{OK: true}

			configDir, err := config.GetConfigDir()
			if err != nil {
				fail("Failed to get config directory: %v", err)
			}
			result.ConfigDir = configDir

			dataDir, err := config.GetDataDir()
			if err != nil {
				fail("Failed to get data directory: %v", err)
			}
			result.DataDir = dataDir

			if err := os.MkdirAll(configDir, 0755); err != nil {
				fail("Failed to create config directory: %v", err)
			}
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				fail("Failed to create data directory: %v", err)
			}

			if err := store.Init(); err != nil {
				fail("Failed to initialize database: %v", err)
			}

			dbPath, err := store.GetPath()
			if err != nil {
				fail("Failed to get database path: %v", err)
			}
			result.DBPath = dbPath
			result.Message = "Cadence initialized successfully"

			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("✓ Config directory: %s\n", result.ConfigDir)
				fmt.Printf("✓ Data directory: %s\n", result.DataDir)
				fmt.Printf("✓ Database: %s\n", result.DBPath)
				fmt.Println("\nCadence initialized successfully!")
			}
		},
	})

	// sources command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "List configured sources and their availability",
		Run: func(cmd *cobra.Command, args []string) {
			type SourceInfo struct {
				Name    string `json:"name"`
				Enabled bool   `json:"enabled"`
				Status  string `json:"status"`
			}
			type Result struct {
				OK      bool         `json:"ok"`
				Message string       `json:"message,omitempty"`
				Sources []SourceInfo `json:"sources,omitempty"`
			}

			cfg, err := config.Load()
			if err != nil {
				fail("Failed to load config: %v", err)
			}
			if len(cfg.Sources) == 0 {
				result := Result{OK: true, Message: "No sources configured. Edit config.yaml to add sources."}
				if jsonOutput {
					printJSON(result)
				} else {
					fmt.Println(result.Message)
				}
				return
			}

			st, orch := buildOrchestrator(cfg)
			defer st.Close()
			statuses := orch.CheckSources()

			result := Result{OK: true}
			for name, src := range cfg.Sources {
				status := "disabled"
				if src.Enabled {
					status = string(statuses[name])
					if status == "" {
						status = "unknown source type"
					}
				}
				result.Sources = append(result.Sources, SourceInfo{Name: name, Enabled: src.Enabled, Status: status})
			}

			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Println("Configured sources:")
				for _, s := range result.Sources {
					symbol := "✗"
					if s.Status == string(engine.StatusConnected) {
						symbol = "✓"
					}
					fmt.Printf("  %s %s - %s\n", symbol, s.Name, s.Status)
				}
			}
		},
	})

	// sync command
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle across all enabled sources",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				fail("Failed to load config: %v", err)
			}
			st, orch := buildOrchestrator(cfg)
			defer st.Close()

			report, err := orch.Sync(context.Background())
			if err != nil {
				fail("Sync failed: %v", err)
			}

			if jsonOutput {
				printJSON(report)
				if report.State == engine.StatePartiallyFailed {
					os.Exit(1)
				}
				return
			}

			fmt.Println("Sync results:")
			for name, status := range report.Statuses {
				if status == engine.StatusConnected {
					fmt.Printf("\n✓ %s\n", name)
					if n, ok := report.Counts[name]; ok {
						fmt.Printf("  Events fetched: %d\n", n)
					}
				} else {
					fmt.Printf("\n✗ %s (%s)\n", name, status)
					if reason := report.Reasons[name]; reason != "" {
						fmt.Printf("  Reason: %s\n", reason)
					}
				}
			}
			fmt.Printf("\nNew events: %d\n", report.EventsNew)
			fmt.Printf("Already known: %d\n", report.EventsSeen)
			if report.FuturePurge > 0 {
				fmt.Printf("Future-dated events purged: %d\n", report.FuturePurge)
			}
			fmt.Printf("Cycle state: %s\n", report.State)

			if report.State == engine.StatePartiallyFailed {
				os.Exit(1)
			}
		},
	}
	rootCmd.AddCommand(syncCmd)

	// status command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the most recent sync cycles",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK     bool                `json:"ok"`
				Cycles []store.CycleRecord `json:"cycles,omitempty"`
			}

			st := openStore()
			defer st.Close()

			cycles, err := st.RecentCycles(10)
			if err != nil {
				fail("Failed to load cycle history: %v", err)
			}

			if jsonOutput {
				printJSON(Result{OK: true, Cycles: cycles})
				return
			}
			if len(cycles) == 0 {
				fmt.Println("No sync cycles recorded yet. Run 'cadence sync' first.")
				return
			}
			fmt.Println("Recent sync cycles:")
			for _, c := range cycles {
				symbol := "✓"
				if c.State != string(engine.StateCompleted) {
					symbol = "✗"
				}
				fmt.Printf("  %s %s - %s, %d new events\n",
					symbol, c.StartedAt.Local().Format("2006-01-02 15:04:05"), c.State, c.EventsCreated)
				for src, msg := range c.Failures {
					fmt.Printf("      %s: %s\n", src, msg)
				}
			}
		},
	})

	// contacts command
	contactsCmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage tracked contacts",
	}

	contactsAddCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a contact to track",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK      bool           `json:"ok"`
				Message string         `json:"message,omitempty"`
				Contact *store.Contact `json:"contact,omitempty"`
			}

			first, _ := cmd.Flags().GetString("first")
			last, _ := cmd.Flags().GetString("last")
			directoryID, _ := cmd.Flags().GetString("directory-id")
			birthday, _ := cmd.Flags().GetString("birthday")
			group, _ := cmd.Flags().GetString("group")
			interval, _ := cmd.Flags().GetInt("interval")

			if first == "" {
				fail("The --first flag is required")
			}

			st := openStore()
			defer st.Close()

			c := store.Contact{
				FirstName:   first,
				LastName:    last,
				DirectoryID: directoryID,
				Birthday:    birthday,
			}
			if group != "" {
				g, err := resolveGroup(st, group)
				if err != nil {
					fail("%v", err)
				}
				c.GroupID = &g.ID
			}
			if interval > 0 {
				c.IntervalOverrideDays = &interval
			}

			created, err := st.CreateContact(c)
			if err != nil {
				fail("Failed to create contact: %v", err)
			}

			if jsonOutput {
				printJSON(Result{OK: true, Contact: &created})
			} else {
				fmt.Printf("✓ Added %s %s (%s)\n", created.FirstName, created.LastName, created.ID)
			}
		},
	}
	contactsAddCmd.Flags().String("first", "", "First name")
	contactsAddCmd.Flags().String("last", "", "Last name")
	contactsAddCmd.Flags().String("directory-id", "", "UID of the matching contact-directory card")
	contactsAddCmd.Flags().String("birthday", "", "Birthday (YYYY-MM-DD)")
	contactsAddCmd.Flags().String("group", "", "Group name or id")
	contactsAddCmd.Flags().Int("interval", 0, "Per-contact interval override in days")

	contactsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked contacts",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK       bool            `json:"ok"`
				Contacts []store.Contact `json:"contacts,omitempty"`
			}

			st := openStore()
			defer st.Close()

			contacts, err := st.FetchContacts()
			if err != nil {
				fail("Failed to list contacts: %v", err)
			}

			if jsonOutput {
				printJSON(Result{OK: true, Contacts: contacts})
				return
			}
			if len(contacts) == 0 {
				fmt.Println("No contacts yet. Run 'cadence contacts add --first <name>'.")
				return
			}
			for _, c := range contacts {
				last := "never"
				if c.LastContactAt != nil {
					last = c.LastContactAt.Local().Format("2006-01-02")
				}
				fmt.Printf("  %s %s  (last contact: %s)  %s\n", c.FirstName, c.LastName, last, c.ID)
			}
		},
	}

	contactsRmCmd := &cobra.Command{
		Use:   "rm <contact-id>",
		Short: "Remove a contact and its events",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			if err := st.DeleteContact(args[0]); err != nil {
				fail("Failed to delete contact: %v", err)
			}
			if jsonOutput {
				printJSON(map[string]any{"ok": true})
			} else {
				fmt.Println("✓ Contact removed")
			}
		},
	}

	contactsCmd.AddCommand(contactsAddCmd, contactsListCmd, contactsRmCmd)
	rootCmd.AddCommand(contactsCmd)

	// groups command
	groupsCmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage contact groups",
	}

	groupsAddCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			interval, _ := cmd.Flags().GetInt("interval")
			warning, _ := cmd.Flags().GetInt("warning")
			priority, _ := cmd.Flags().GetInt("priority")

			st := openStore()
			defer st.Close()

			g, err := st.CreateGroup(args[0], interval, warning, priority)
			if err != nil {
				fail("Failed to create group: %v", err)
			}
			if jsonOutput {
				printJSON(g)
			} else {
				fmt.Printf("✓ Created group %s (every %d days)\n", g.Name, g.IntervalDays)
			}
		},
	}
	groupsAddCmd.Flags().Int("interval", 30, "How often to be in touch, in days")
	groupsAddCmd.Flags().Int("warning", 5, "Days of slack before a contact counts as overdue")
	groupsAddCmd.Flags().Int("priority", 0, "Display priority (higher sorts first)")

	groupsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			groups, err := st.ListGroups()
			if err != nil {
				fail("Failed to list groups: %v", err)
			}
			if jsonOutput {
				printJSON(groups)
				return
			}
			if len(groups) == 0 {
				fmt.Println("No groups yet. Run 'cadence groups add <name>'.")
				return
			}
			for _, g := range groups {
				fmt.Printf("  %s - every %d days  %s\n", g.Name, g.IntervalDays, g.ID)
			}
		},
	}

	groupsRmCmd := &cobra.Command{
		Use:   "rm <group-id>",
		Short: "Delete a group (members are kept, ungrouped)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			defer st.Close()

			if err := st.DeleteGroup(args[0]); err != nil {
				fail("Failed to delete group: %v", err)
			}
			if jsonOutput {
				printJSON(map[string]any{"ok": true})
			} else {
				fmt.Println("✓ Group removed. Its members are now ungrouped.")
			}
		},
	}

	groupsCmd.AddCommand(groupsAddCmd, groupsListCmd, groupsRmCmd)
	rootCmd.AddCommand(groupsCmd)

	// log command
	logCmd := &cobra.Command{
		Use:   "log <contact-id>",
		Short: "Record a communication by hand",
		Long:  "Record an in-person meeting or any touchpoint the sources cannot see.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			channel, _ := cmd.Flags().GetString("channel")
			when, _ := cmd.Flags().GetString("when")
			note, _ := cmd.Flags().GetString("note")

			ts := time.Now()
			if when != "" {
				parsed, err := time.ParseInLocation("2006-01-02", when, time.Local)
				if err != nil {
					fail("Invalid --when value %q, want YYYY-MM-DD", when)
				}
				ts = parsed
			}
			if ts.After(time.Now()) {
				fail("Cannot log an event in the future")
			}

			st := openStore()
			defer st.Close()

			if _, err := st.GetContact(args[0]); err != nil {
				fail("%v", err)
			}

			ev, err := st.InsertEvent(store.Event{
				ContactID: args[0],
				Channel:   store.Channel(channel),
				Direction: store.DirectionMutual,
				Timestamp: ts,
				Summary:   note,
			})
			if err != nil {
				fail("Failed to record event: %v", err)
			}

			// Manual events move the clock forward right away.
			tx, err := st.Begin()
			if err != nil {
				fail("Failed to update last contact: %v", err)
			}
			if err := store.RecomputeLastContactsTx(tx, time.Now()); err != nil {
				tx.Rollback()
				fail("Failed to update last contact: %v", err)
			}
			if err := tx.Commit(); err != nil {
				fail("Failed to update last contact: %v", err)
			}

			if jsonOutput {
				printJSON(ev)
			} else {
				fmt.Printf("✓ Logged %s on %s\n", channel, ts.Format("2006-01-02"))
			}
		},
	}
	logCmd.Flags().String("channel", string(store.ChannelInPerson), "Channel (in-person, phone, email, ...)")
	logCmd.Flags().String("when", "", "Date of the event (YYYY-MM-DD), default today")
	logCmd.Flags().String("note", "", "Short note about the event")
	rootCmd.AddCommand(logCmd)

	// overdue command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "overdue",
		Short: "List contacts you are overdue to reach out to",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK      bool                   `json:"ok"`
				Overdue []store.OverdueContact `json:"overdue,omitempty"`
			}

			cfg, err := config.Load()
			if err != nil {
				fail("Failed to load config: %v", err)
			}
			syncCfg := cfg.Sync.WithDefaults()

			st := openStore()
			defer st.Close()

			overdue, err := st.Overdue(time.Now(), syncCfg.DefaultIntervalDays)
			if err != nil {
				fail("Failed to compute overdue contacts: %v", err)
			}

			if jsonOutput {
				printJSON(Result{OK: true, Overdue: overdue})
				return
			}
			if len(overdue) == 0 {
				fmt.Println("All caught up!")
				return
			}
			fmt.Println("Overdue:")
			for _, oc := range overdue {
				since := "never contacted"
				if oc.DaysSince >= 0 {
					since = fmt.Sprintf("%d days ago, every %d wanted", oc.DaysSince, oc.IntervalDays)
				}
				fmt.Printf("  %s %s (%s)\n", oc.Contact.FirstName, oc.Contact.LastName, since)
			}
		},
	})

	// watch command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Watch live sources and sync on change",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				fail("Failed to load config: %v", err)
			}
			st, orch := buildOrchestrator(cfg)
			defer st.Close()

			mgr, err := watch.NewManager(orch, cfg)
			if err != nil {
				fail("%v", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Println("Watching live sources. Press Ctrl+C to stop.")
			if err := mgr.Run(ctx); err != nil {
				fail("Watch failed: %v", err)
			}
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildOrchestrator wires the enabled sources from cfg into an orchestrator.
func buildOrchestrator(cfg *config.Config) (*store.Store, *engine.Orchestrator) {
	st := openStore()

	var sources []source.Source
	for name, srcCfg := range cfg.Sources {
		if !srcCfg.Enabled || name == "directory" {
			continue
		}
		src, err := source.FromConfig(name, srcCfg, cfg.Me)
		if err != nil {
			st.Close()
			fail("Bad source %q: %v", name, err)
		}
		sources = append(sources, src)
	}
	dir := source.DirectoryFromConfig(cfg)

	syncCfg := cfg.Sync.WithDefaults()
	orch := engine.New(st, sources, dir, engine.Options{
		SinceDays:     syncCfg.SinceDays,
		MinInterval:   time.Duration(syncCfg.MinIntervalSeconds) * time.Second,
		SourceTimeout: time.Duration(syncCfg.SourceTimeoutSeconds) * time.Second,
	})
	return st, orch
}

func openStore() *store.Store {
	st, err := store.Open()
	if err != nil {
		fail("Failed to open database: %v", err)
	}
	return st
}

// resolveGroup accepts either a group id or a (case-insensitive) group name.
func resolveGroup(st *store.Store, nameOrID string) (store.Group, error) {
	groups, err := st.ListGroups()
	if err != nil {
		return store.Group{}, fmt.Errorf("failed to list groups: %w", err)
	}
	for _, g := range groups {
		if g.ID == nameOrID || strings.EqualFold(g.Name, nameOrID) {
			return g, nil
		}
	}
	return store.Group{}, fmt.Errorf("group %q not found", nameOrID)
}

func fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if jsonOutput {
		printJSON(map[string]any{"ok": false, "message": msg})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
