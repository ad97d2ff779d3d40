package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kompassi.org/internal/access"
	"kompassi.org/internal/app"
	"kompassi.org/internal/audit"
	"kompassi.org/internal/config"
	"kompassi.org/internal/obs"
)

// opener builds the application for one command invocation.
type opener func(ctx context.Context, cfg *config.Config) (*app.App, error)

func openApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.Open(ctx, cfg, app.Client)
}

type cli struct {
	open       opener
	configPath string
	app        *app.App
}

func newCLI(open opener) *cli {
	return &cli{open: open}
}

// execute runs the command tree with args (os.Args when nil) and closes the
// app afterwards. cobra skips post-run hooks when a command fails, so closing
// happens here rather than in PersistentPostRunE.
func (c *cli) execute(args []string, configure ...func(*cobra.Command)) error {
	root := c.rootCmd()
	if args != nil {
		root.SetArgs(args)
	}
	for _, fn := range configure {
		fn(root)
	}
	err := root.Execute()
	return errors.Join(err, c.close())
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	a := c.app
	c.app = nil
	return a.Close()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "accessctl",
		Short:         "Manage privileges, grants and email aliases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			obs.SetLogger(obs.NewLogger(cmd.ErrOrStderr(), cfg.SlogLevel()))
			actor := "accessctl"
			if user := os.Getenv("USER"); user != "" {
				actor += ":" + user
			}
			ctx := audit.WithActor(cmd.Context(), actor)
			cmd.SetContext(ctx)
			a, err := c.open(ctx, cfg)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("ACCESS_CONFIG"), "path to YAML config file")

	root.AddCommand(
		c.privilegeCmd(),
		c.grantCmd(),
		c.setStateCmd(),
		c.potentialCmd(),
		c.grantsCmd(),
		c.aliasesCmd(),
		c.codesCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) person(ctx context.Context, id string) (*access.Person, error) {
	p, err := c.app.Store.Directory().FindPerson(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("person %s: %w", id, err)
	}
	return p, nil
}

func (c *cli) privilegeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "privilege", Short: "Manage the privilege catalog"}

	var p access.Privilege
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a privilege",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Engine.CreatePrivilege(cmd.Context(), &p); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	create.Flags().StringVar(&p.Slug, "slug", "", "unique slug")
	create.Flags().StringVar(&p.Title, "title", "", "display title")
	create.Flags().StringVar(&p.Description, "description", "", "description")
	create.Flags().StringVar(&p.RequestSuccessMessage, "success-message", "", "message shown after a request")
	create.Flags().StringVar(&p.GrantCode, "grant-code", access.NoopGrantCode, "registry key of the grant action")
	_ = create.MarkFlagRequired("slug")
	_ = create.MarkFlagRequired("title")

	var slug, group, event string
	bind := &cobra.Command{
		Use:   "bind",
		Short: "Make members of a group eligible for a privilege",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := c.app.Store.Privileges().FindBySlug(cmd.Context(), slug)
			if err != nil {
				return fmt.Errorf("privilege %s: %w", slug, err)
			}
			gp, err := c.app.Engine.BindGroup(cmd.Context(), priv.ID, group, event)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), gp)
		},
	}
	bind.Flags().StringVar(&slug, "privilege", "", "privilege slug")
	bind.Flags().StringVar(&group, "group", "", "group id")
	bind.Flags().StringVar(&event, "event", "", "optional event scope")
	_ = bind.MarkFlagRequired("privilege")
	_ = bind.MarkFlagRequired("group")

	var sa access.SlackAccess
	var slackSlug string
	slackCmd := &cobra.Command{
		Use:   "slack",
		Short: "Configure the Slack workspace of a privilege",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := c.app.Store.Privileges().FindBySlug(cmd.Context(), slackSlug)
			if err != nil {
				return fmt.Errorf("privilege %s: %w", slackSlug, err)
			}
			sa.PrivilegeID = priv.ID
			if err := c.app.Store.Privileges().SaveSlackAccess(cmd.Context(), &sa); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"privilege": priv.Slug,
				"team_name": sa.TeamName,
				"test_mode": sa.TestMode(),
			})
		},
	}
	slackCmd.Flags().StringVar(&slackSlug, "privilege", "", "privilege slug")
	slackCmd.Flags().StringVar(&sa.TeamName, "team", "", "Slack team name")
	slackCmd.Flags().StringVar(&sa.APIToken, "token", access.SlackTestToken, "API token; \"test\" only logs")
	_ = slackCmd.MarkFlagRequired("privilege")
	_ = slackCmd.MarkFlagRequired("team")

	cmd.AddCommand(create, bind, slackCmd)
	return cmd
}

func (c *cli) grantCmd() *cobra.Command {
	var slug, personID string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a privilege to a person",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			priv, err := c.app.Store.Privileges().FindBySlug(ctx, slug)
			if err != nil {
				return fmt.Errorf("privilege %s: %w", slug, err)
			}
			person, err := c.person(ctx, personID)
			if err != nil {
				return err
			}
			if err := c.app.Engine.Grant(ctx, *priv, *person); err != nil {
				return err
			}
			records, err := c.app.Engine.GrantedPrivileges(ctx, *person)
			if err != nil {
				return err
			}
			for _, r := range records {
				if r.PrivilegeID == priv.ID {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"privilege": priv.Slug,
						"person_id": person.ID,
						"state":     r.State,
						"deferred":  c.app.Engine.Deferred() && r.State == access.StateApproved,
					})
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&slug, "privilege", "", "privilege slug")
	cmd.Flags().StringVar(&personID, "person", "", "person id")
	_ = cmd.MarkFlagRequired("privilege")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func (c *cli) setStateCmd() *cobra.Command {
	var slug, personID, state string
	cmd := &cobra.Command{
		Use:   "set-state",
		Short: "Approve or reject a grant request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := c.app.Store.Privileges().FindBySlug(cmd.Context(), slug)
			if err != nil {
				return fmt.Errorf("privilege %s: %w", slug, err)
			}
			return c.app.Engine.SetState(cmd.Context(), priv.ID, personID, access.State(state))
		},
	}
	cmd.Flags().StringVar(&slug, "privilege", "", "privilege slug")
	cmd.Flags().StringVar(&personID, "person", "", "person id")
	cmd.Flags().StringVar(&state, "state", string(access.StateApproved), "approved or rejected")
	_ = cmd.MarkFlagRequired("privilege")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func (c *cli) potentialCmd() *cobra.Command {
	var personID, event string
	cmd := &cobra.Command{
		Use:   "potential",
		Short: "List privileges a person could request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			person, err := c.person(cmd.Context(), personID)
			if err != nil {
				return err
			}
			privs, err := c.app.Engine.PotentialPrivileges(cmd.Context(), *person, access.PotentialFilter{EventID: event})
			if err != nil {
				return err
			}
			if privs == nil {
				privs = []access.Privilege{}
			}
			return printJSON(cmd.OutOrStdout(), privs)
		},
	}
	cmd.Flags().StringVar(&personID, "person", "", "person id")
	cmd.Flags().StringVar(&event, "event", "", "only bindings scoped to this event")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func (c *cli) grantsCmd() *cobra.Command {
	var personID string
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "List grant records of a person",
		RunE: func(cmd *cobra.Command, _ []string) error {
			person, err := c.person(cmd.Context(), personID)
			if err != nil {
				return err
			}
			records, err := c.app.Engine.GrantedPrivileges(cmd.Context(), *person)
			if err != nil {
				return err
			}
			if records == nil {
				records = []access.GrantedPrivilege{}
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVar(&personID, "person", "", "person id")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func (c *cli) aliasesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "aliases", Short: "Manage email aliases"}

	var personID string
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Issue aliases a person is entitled to through group grants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			person, err := c.person(cmd.Context(), personID)
			if err != nil {
				return err
			}
			created, err := c.app.Provisioner.EnsureGroupAliases(cmd.Context(), *person, time.Now())
			if created == nil {
				created = []access.EmailAlias{}
			}
			if perr := printJSON(cmd.OutOrStdout(), created); perr != nil {
				return perr
			}
			return err
		},
	}
	ensure.Flags().StringVar(&personID, "person", "", "person id")
	_ = ensure.MarkFlagRequired("person")

	var typeID, createPerson, accountName string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue one alias",
		RunE: func(cmd *cobra.Command, _ []string) error {
			alias, err := c.app.Provisioner.Create(cmd.Context(), typeID, createPerson, accountName)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), alias)
		},
	}
	create.Flags().StringVar(&typeID, "type", "", "alias type id")
	create.Flags().StringVar(&createPerson, "person", "", "person id")
	create.Flags().StringVar(&accountName, "account-name", "", "explicit account name; derived when empty")
	_ = create.MarkFlagRequired("type")
	_ = create.MarkFlagRequired("person")

	var listPerson string
	list := &cobra.Command{
		Use:   "list",
		Short: "List aliases of a person",
		RunE: func(cmd *cobra.Command, _ []string) error {
			person, err := c.person(cmd.Context(), listPerson)
			if err != nil {
				return err
			}
			aliases, err := c.app.Provisioner.Aliases(cmd.Context(), *person)
			if err != nil {
				return err
			}
			if aliases == nil {
				aliases = []access.EmailAlias{}
			}
			return printJSON(cmd.OutOrStdout(), aliases)
		},
	}
	list.Flags().StringVar(&listPerson, "person", "", "person id")
	_ = list.MarkFlagRequired("person")

	cmd.AddCommand(ensure, create, list)
	return cmd
}

func (c *cli) codesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "List registered grant codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), c.app.Registry.GrantCodes())
		},
	}
}
