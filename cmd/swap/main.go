package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"skillswap/internal/app"
	"skillswap/internal/config"
	"skillswap/internal/domain"
	"skillswap/internal/engine"
	"skillswap/internal/repo"
	"skillswap/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "swap",
	Short: "Skillswap CLI",
	Long: `Skillswap lets two users trade skills they offer for skills they want.
Core concepts:
- Skill: a catalog entry (name + category) that users offer or want.
- Swap: a negotiation between a requester and a responder; it moves pending -> accepted -> completed, or ends rejected/cancelled.
- Only one pending or accepted swap may exist per pair of users.
- Feedback: after a swap completes each party may rate the other once (1-5); ratings feed the user's running average.
- Event log: every change is recorded; view it with 'swap log tail'.`,
	SilenceUsage: true,
}

func main() {
	setupRoot()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func setupRoot() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
}

func initConfig() {
	viper.SetEnvPrefix("SKILLSWAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides log.level)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(skillCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(swapCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(reputationCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if !cmd.Flags().Changed("addr") {
					addr = rt.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = rt.Config.Server.BasePath
				}
				if !cmd.Flags().Changed("dev-login") {
					devLogin = rt.Config.Server.DevLogin
				}
				authCfg := server.AuthConfig{
					JWTSecret: viper.GetString("jwt-secret"),
					DevLogin:  devLogin,
					Logger:    rt.Log.Named("auth"),
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("SKILLSWAP_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, Metrics: rt.Metrics})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Log.Info("serving skillswap api", zap.String("addr", addr), zap.String("base_path", basePath),
					zap.Bool("dev_login", devLogin))
				fmt.Printf("Serving Skillswap API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n",
					addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (local use only)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in skillswap.yml in the workspace: text limits, listing sizes, store retry bounds, webhooks, logging and server settings. Missing sections fall back to defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate skillswap.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
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
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default skillswap.yml",
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

func skillCmd() *cobra.Command {
	sk := &cobra.Command{
		Use:   "skill",
		Short: "Manage the skill catalog",
		Long:  "Skills are catalog entries users offer or want. Inactive skills cannot be used in new swaps; skills referenced by a swap cannot be deleted.",
	}
	sk.AddCommand(skillAddCmd())
	sk.AddCommand(skillListCmd())
	sk.AddCommand(skillSetActiveCmd("enable", true))
	sk.AddCommand(skillSetActiveCmd("disable", false))
	sk.AddCommand(skillDeleteCmd())
	return sk
}

func skillAddCmd() *cobra.Command {
	var id, name, category string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a skill",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.InsertSkill(ctx, domain.Skill{
					ID: id, Name: name, Category: domain.SkillCategory(category), Active: true, CreatedAt: time.Now().UTC(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "skill id (random UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "skill name")
	cmd.Flags().StringVar(&category, "category", string(domain.CategoryOther), "skill category")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func skillListCmd() *cobra.Command {
	var category string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				skills, err := r.ListSkills(ctx, category, !all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(skills)
				}
				tw := newTable("ID", "Name", "Category", "Active", "Usage")
				for _, s := range skills {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Category, s.Active, s.UsageCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().BoolVar(&all, "all", false, "include inactive skills")
	return cmd
}

func skillSetActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <skill-id>",
		Short: fmt.Sprintf("Mark a skill %sd", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.SetSkillActive(ctx, args[0], active); err != nil {
					return err
				}
				s, err := r.GetSkill(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func skillDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <skill-id>",
		Short: "Delete an unreferenced skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				err := r.DeleteSkill(ctx, args[0])
				if errors.Is(err, repo.ErrReferenced) {
					return fmt.Errorf("skill %s is used by existing swaps; disable it instead", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "user",
		Short: "Manage users and their skills",
	}
	u.AddCommand(userAddCmd())
	u.AddCommand(userSuspendCmd())
	u.AddCommand(userSkillCmd("offer", domain.SkillOffered))
	u.AddCommand(userSkillCmd("want", domain.SkillWanted))
	u.AddCommand(userShowCmd())
	u.AddCommand(userKeyCmd())
	return u
}

func userAddCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertUser(ctx, domain.User{ID: id, DisplayName: name, CreatedAt: time.Now().UTC()}); err != nil {
					return err
				}
				u, err := r.GetUser(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func userSuspendCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "suspend <user-id>",
		Short: "Suspend a user (or lift it with --undo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.SetUserSuspended(ctx, args[0], !undo); err != nil {
					return err
				}
				u, err := r.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "lift the suspension")
	return cmd
}

func userSkillCmd(use string, kind domain.SkillKind) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   use + " <user-id> <skill-id>",
		Short: fmt.Sprintf("Record that a user can %s a skill", use),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var err error
				if remove {
					err = r.RemoveUserSkill(ctx, args[0], args[1], kind)
				} else {
					err = r.AddUserSkill(ctx, args[0], args[1], kind)
				}
				if err != nil {
					return err
				}
				caps, err := r.GetCapabilities(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(caps)
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove instead of add")
	return cmd
}

func userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user with skills and reputation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				caps, err := r.GetCapabilities(ctx, args[0])
				if err != nil {
					return err
				}
				counts, err := r.CountSwapsByStatus(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"user":    u,
					"offered": caps.Offered,
					"wanted":  caps.Wanted,
					"swaps":   counts,
				})
			})
		},
	}
}

func userKeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys (X-Api-Key authentication)",
	}
	k.AddCommand(userKeyCreateCmd())
	k.AddCommand(userKeyListCmd())
	k.AddCommand(userKeyRevokeCmd())
	return k
}

func userKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create an API key; the secret is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := newAPIKeySecret()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    args[0],
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC(),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "user_id": key.UserID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func userKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

func swapCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "swap",
		Short: "Negotiate skill swaps",
		Long:  "Swaps act as --actor-id. The requester proposes; the responder accepts or rejects; either party cancels or completes an accepted swap; the requester may withdraw a pending swap with delete.",
	}
	s.AddCommand(swapCreateCmd())
	s.AddCommand(swapTransitionCmd(domain.ActionAccept, false))
	s.AddCommand(swapTransitionCmd(domain.ActionReject, true))
	s.AddCommand(swapTransitionCmd(domain.ActionCancel, true))
	s.AddCommand(swapTransitionCmd(domain.ActionComplete, false))
	s.AddCommand(swapDeleteCmd())
	s.AddCommand(swapListCmd())
	s.AddCommand(swapShowCmd())
	return s
}

func swapCreateCmd() *cobra.Command {
	var in engine.CreateNegotiationInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Propose a swap",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			in.RequesterID = actor
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateNegotiation(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&in.ResponderID, "to", "", "responder user id")
	cmd.Flags().StringVar(&in.OfferedSkillID, "offer", "", "skill id you offer")
	cmd.Flags().StringVar(&in.RequestedSkillID, "request", "", "skill id you want")
	cmd.Flags().StringVar(&in.Message, "message", "", "note to the responder")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("offer")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func swapTransitionCmd(action domain.Action, withReason bool) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   string(action) + " <swap-id>",
		Short: strings.ToUpper(string(action[:1])) + string(action[1:]) + " a swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Transition(ctx, args[0], actor, action, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	if withReason {
		cmd.Flags().StringVar(&reason, "reason", "", "optional reason")
	}
	return cmd
}

func swapDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <swap-id>",
		Short: "Withdraw a pending swap you requested",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.DeleteNegotiation(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func swapListCmd() *cobra.Command {
	var status string
	var page, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your swaps, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.GetUserSwaps(ctx, actor, domain.SwapStatus(status), page, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable("ID", "Requester", "Responder", "Offered", "Requested", "Status", "Created")
				for _, s := range res.Items {
					tw.AppendRow(table.Row{s.ID, s.RequesterID, s.ResponderID, s.OfferedSkill, s.RequestedSkill, s.Status,
						s.CreatedAt.Format(time.RFC3339)})
				}
				tw.AppendFooter(table.Row{fmt.Sprintf("page %d/%d", res.PageInfo.Page, res.PageInfo.TotalPages), "", "", "", "",
					"total", res.PageInfo.Total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (config default if 0)")
	return cmd
}

func swapShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <swap-id>",
		Short: "Show a swap you are party to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSwap(ctx, args[0], actor)
				if err != nil {
					return err
				}
				feedback, err := e.Repo.ListFeedbackForSwap(ctx, s.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"swap": s, "feedback": feedback})
			})
		},
	}
}

func feedbackCmd() *cobra.Command {
	f := &cobra.Command{
		Use:   "feedback",
		Short: "Rate completed swaps",
	}
	f.AddCommand(feedbackSubmitCmd())
	f.AddCommand(feedbackStatsCmd())
	return f
}

func feedbackSubmitCmd() *cobra.Command {
	var in engine.SubmitFeedbackInput
	var private bool
	cmd := &cobra.Command{
		Use:   "submit <swap-id>",
		Short: "Rate the other party of a completed swap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := requireActor()
			if err != nil {
				return err
			}
			in.SwapID = args[0]
			in.FromUserID = actor
			in.IsPublic = !private
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fb, err := e.SubmitFeedback(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(fb)
			})
		},
	}
	cmd.Flags().IntVar(&in.Rating, "rating", 0, "rating 1-5")
	cmd.Flags().StringVar(&in.Comment, "comment", "", "comment")
	cmd.Flags().StringVar(&in.ToUserID, "to", "", "rated user (defaults to the other party)")
	cmd.Flags().BoolVar(&private, "private", false, "hide the feedback from public listings")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func feedbackStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user-id>",
		Short: "Show ratings given and received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.GetStats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
}

func reputationCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "reputation",
		Short: "Inspect or rebuild user reputation",
	}
	r.AddCommand(&cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user's running average rating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.GetReputation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	})
	r.AddCommand(&cobra.Command{
		Use:   "recompute <user-id>",
		Short: "Rebuild a user's reputation from all received feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if actor == "" {
				actor = "admin"
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.RecomputeReputation(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	})
	return r
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every swap change, feedback and reputation rebuild is appended to the event log.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Latest = true
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor", "Payload")
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	return cmd
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		LogLevel:  viper.GetString("log-level"),
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine.Repo)
	})
}

func requireActor() (string, error) {
	actor := strings.TrimSpace(viper.GetString("actor-id"))
	if actor == "" {
		return "", fmt.Errorf("--actor-id (or SKILLSWAP_ACTOR_ID) is required")
	}
	return actor, nil
}

func newAPIKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sk_" + hex.EncodeToString(buf), nil
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
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
