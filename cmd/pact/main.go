package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pactline/internal/app"
	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/engine"
	"pactline/internal/server"
	"pactline/internal/sweep"
)

var rootCmd = &cobra.Command{
	Use:   "pact",
	Short: "Pactline CLI",
	Long: `Pactline tracks promises between people: structured commitments with a
lifecycle, conditions, evidence and an append-only receipt log.
- Workspace: the .pactline directory holding the database; pactline.yml holds defaults.
- Promise: a commitment (promise, bet, oath, declaration, pact, challenge) between up to 10 participants.
- Lifecycle: draft -> proposed -> active -> fulfilled/breached, with cancel, publish (declarations/oaths) and settle as exits.
- Conditions: sub-requirements a promise can carry; mark them met as they happen.
- Evidence: photos, links, text or files attached as proof, optionally tied to a condition.
- Receipts: the immutable audit log of everything that happened, view with 'pact promise receipts'.
- Auto-breach: overdue active promises past their grace window are breached by the sweeper.`,
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
	viper.SetEnvPrefix("PACTLINE")
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
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(promiseCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(conditionCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default pactline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

func promiseCmd() *cobra.Command {
	p := &cobra.Command{Use: "promise", Short: "Manage promises"}
	p.AddCommand(promiseCreateCmd())
	p.AddCommand(promiseListCmd())
	p.AddCommand(promiseShowCmd())
	p.AddCommand(promiseDeleteCmd())
	p.AddCommand(promiseTransitionCmd("send", "Propose a draft promise", func(ctx context.Context, e engine.Engine, id string) (domain.Promise, error) {
		return e.Send(ctx, id, viper.GetString("actor-id"))
	}))
	p.AddCommand(promiseTransitionCmd("accept", "Activate a proposed promise", func(ctx context.Context, e engine.Engine, id string) (domain.Promise, error) {
		return e.Accept(ctx, id, viper.GetString("actor-id"))
	}))
	p.AddCommand(promiseTransitionCmd("fulfill", "Mark an active promise kept", func(ctx context.Context, e engine.Engine, id string) (domain.Promise, error) {
		return e.Fulfill(ctx, id, viper.GetString("actor-id"))
	}))
	p.AddCommand(promiseTransitionCmd("publish", "Publish a draft declaration or oath", func(ctx context.Context, e engine.Engine, id string) (domain.Promise, error) {
		return e.Publish(ctx, id, viper.GetString("actor-id"))
	}))
	p.AddCommand(promiseCancelCmd())
	p.AddCommand(promiseBreachCmd())
	p.AddCommand(promiseSettleCmd())
	p.AddCommand(promiseExtendCmd())
	p.AddCommand(promiseCoinFlipCmd())
	p.AddCommand(promiseReceiptsCmd())
	return p
}

func promiseCreateCmd() *cobra.Command {
	var typ, title, desc, seriousness, visibility, timezone, startAt, dueAt, view string
	var participants, conditions []string
	var noAutoBreach bool
	var graceMinutes int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create promise",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.CreateOptions{
					Type:          typ,
					Title:         title,
					Description:   desc,
					Seriousness:   seriousness,
					Visibility:    visibility,
					Timezone:      timezone,
					PreferredView: view,
					ActorID:       viper.GetString("actor-id"),
				}
				if startAt != "" {
					opts.StartAt = &startAt
				}
				if dueAt != "" {
					opts.DueAt = &dueAt
				}
				if cmd.Flags().Changed("no-auto-breach") || cmd.Flags().Changed("grace-minutes") {
					grace := graceMinutes
					if !cmd.Flags().Changed("grace-minutes") && e.Config != nil {
						grace = e.Config.Defaults.AutoBreach.GraceMinutes
					}
					opts.AutoBreach = &domain.AutoBreach{Enabled: !noAutoBreach, GraceMinutes: grace}
				}
				for _, spec := range participants {
					userID, role, _ := strings.Cut(spec, ":")
					opts.Participants = append(opts.Participants, engine.ParticipantInput{UserID: userID, Role: role})
				}
				for _, spec := range conditions {
					label, ctype, _ := strings.Cut(spec, ":")
					opts.Conditions = append(opts.Conditions, engine.ConditionInput{Label: label, Type: ctype})
				}
				created, err := e.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "promise", "promise type")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&seriousness, "seriousness", "", "playful, normal or serious")
	cmd.Flags().StringVar(&visibility, "visibility", "", "private, friends or link")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone")
	cmd.Flags().StringVar(&startAt, "start-at", "", "RFC3339 start time")
	cmd.Flags().StringVar(&dueAt, "due-at", "", "RFC3339 due time")
	cmd.Flags().StringVar(&view, "view", "", "preferred view")
	cmd.Flags().StringArrayVar(&participants, "participant", nil, "participant user id, optionally user:role (repeatable)")
	cmd.Flags().StringArrayVar(&conditions, "condition", nil, "condition label, optionally label:type (repeatable)")
	cmd.Flags().BoolVar(&noAutoBreach, "no-auto-breach", false, "disable auto-breach")
	cmd.Flags().IntVar(&graceMinutes, "grace-minutes", 60, "auto-breach grace minutes")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func promiseListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's promises",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if userID == "" {
					userID = viper.GetString("actor-id")
				}
				items, err := e.List(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Status", "Due", "Updated"})
				for _, p := range items {
					due := ""
					if p.DueAt != nil {
						due = *p.DueAt
					}
					tw.AppendRow(table.Row{p.ID, p.Type, p.Title, p.Status, due, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user id (defaults to --actor-id)")
	return cmd
}

func promiseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <promise-id>",
		Short: "Show promise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	return cmd
}

func promiseDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <promise-id>",
		Short: "Soft-delete promise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func promiseTransitionCmd(use, short string, fn func(context.Context, engine.Engine, string) (domain.Promise, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <promise-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func promiseCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <promise-id>",
		Short: "Cancel a promise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Cancel(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the promise is cancelled")
	return cmd
}

func promiseBreachCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "breach <promise-id>",
		Short: "Declare an active promise broken",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.DeclareBreach(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the promise is breached")
	return cmd
}

func promiseSettleCmd() *cobra.Command {
	var winner, note string
	cmd := &cobra.Command{
		Use:   "settle <promise-id>",
		Short: "Settle an active promise in favor of a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Settle(ctx, args[0], winner, note, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&winner, "winner", "", "winning participant user id")
	cmd.Flags().StringVar(&note, "note", "", "settlement note")
	_ = cmd.MarkFlagRequired("winner")
	return cmd
}

func promiseExtendCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "extend <promise-id>",
		Short: "Push the due time forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Extend(ctx, args[0], minutes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "minutes to add")
	_ = cmd.MarkFlagRequired("minutes")
	return cmd
}

func promiseCoinFlipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coinflip <promise-id>",
		Short: "Record a fair coin flip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.CoinFlip(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"result": result})
			})
		},
	}
	return cmd
}

func promiseReceiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts <promise-id>",
		Short: "List receipts, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListReceipts(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "At", "Actor", "Action", "Meta"})
				for _, r := range items {
					meta, _ := json.Marshal(r.Meta)
					tw.AppendRow(table.Row{r.ID, r.At, r.ActorID, r.Action, string(meta)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func participantCmd() *cobra.Command {
	pc := &cobra.Command{Use: "participant", Short: "Manage participants"}
	var sigMethod, sigData string
	accept := &cobra.Command{
		Use:   "accept <promise-id>",
		Short: "Record the actor's acceptance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var sig *domain.Signature
				if sigMethod != "" {
					sig = &domain.Signature{Method: sigMethod, Data: sigData}
				}
				p, err := e.AcceptParticipant(ctx, args[0], viper.GetString("actor-id"), sig)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	accept.Flags().StringVar(&sigMethod, "signature-method", "", "tap-accept, drawn, typed or pin")
	accept.Flags().StringVar(&sigData, "signature-data", "", "signature payload")
	pc.AddCommand(accept)
	return pc
}

func conditionCmd() *cobra.Command {
	cc := &cobra.Command{Use: "condition", Short: "Manage conditions"}
	cc.AddCommand(&cobra.Command{
		Use:   "met <promise-id> <condition-id>",
		Short: "Mark a condition satisfied",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.MarkConditionMet(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	})
	return cc
}

func evidenceCmd() *cobra.Command {
	ec := &cobra.Command{Use: "evidence", Short: "Manage evidence"}
	var kind, url, text, hash, conditionID string
	add := &cobra.Command{
		Use:   "add <promise-id>",
		Short: "Attach evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.AddEvidence(ctx, args[0], engine.EvidenceOptions{
					Kind:        kind,
					URL:         url,
					Text:        text,
					Hash:        hash,
					ConditionID: conditionID,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(ev)
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", "", "photo, video, text, file or link")
	add.Flags().StringVar(&url, "url", "", "evidence URL")
	add.Flags().StringVar(&text, "text", "", "evidence text")
	add.Flags().StringVar(&hash, "hash", "", "content hash")
	add.Flags().StringVar(&conditionID, "condition-id", "", "link to a condition")
	_ = add.MarkFlagRequired("kind")
	ec.AddCommand(add)

	ec.AddCommand(&cobra.Command{
		Use:   "remove <promise-id> <evidence-id>",
		Short: "Detach evidence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RemoveEvidence(ctx, args[0], args[1], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("removed", args[1])
				return nil
			})
		},
	})
	return ec
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, raw, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				return printJSON(map[string]string{
					"id":      key.ID,
					"actorId": key.ActorID,
					"key":     raw,
				})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	ak.AddCommand(create)

	var actorFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, actorFilter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&actorFilter, "actor", "", "filter by actor id")
	ak.AddCommand(list)

	ak.AddCommand(&cobra.Command{
		Use:   "delete <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return ak
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Breach overdue active promises once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.SweepAutoBreach(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("breached %d promise(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()

			authCfg := server.AuthConfig{
				JWTSecret:              a.Config.Auth.JWTSecret,
				AllowLegacyActorHeader: a.Config.Auth.AllowLegacyActorHeader,
				DevLogin:               a.Config.Auth.DevLogin,
			}
			if env := os.Getenv("PACTLINE_JWT_SECRET"); env != "" {
				authCfg.JWTSecret = env
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("PACTLINE_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
			}

			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}

			sweeper := sweep.New(a.Engine, a.Config.Sweep.Interval)
			if err := sweeper.Start(); err != nil {
				return err
			}
			defer sweeper.Stop()

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Pactline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
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
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
