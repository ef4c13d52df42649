package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"learnmusic/courseclient/internal/app"
	"learnmusic/courseclient/internal/auth"
	"learnmusic/courseclient/internal/catalog"
	"learnmusic/courseclient/internal/config"
	"learnmusic/courseclient/internal/observability"
)

// Version is overridden at build time.
var Version = "dev"

type cliState struct {
	log    *zap.Logger
	client *app.Client
}

// NewRootCmd builds the command tree. Each invocation gets its own client.
func NewRootCmd() *cobra.Command {
	rt := &cliState{}

	root := &cobra.Command{
		Use:           "courseclient",
		Short:         "Sign in, browse and buy courses from the learnmusic marketplace.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt.log, err = observability.NewLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			rt.client, err = app.NewClient(cfg, rt.log)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
			if rt.client != nil {
				return rt.client.Close()
			}
			return nil
		},
	}

	root.AddCommand(
		newLoginCmd(rt),
		newLogoutCmd(rt),
		newWhoamiCmd(rt),
		newCoursesCmd(rt),
		newBuyCmd(rt),
		newDashboardCmd(rt),
	)
	return root
}

// Execute runs the CLI with ctx and prints any error to stderr.
func Execute(ctx context.Context) error {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", userMessage(err))
		return err
	}
	return nil
}

func userMessage(err error) string {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr.Message()
	}
	return err.Error()
}

func newLoginCmd(rt *cliState) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange email and password for a session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := rt.client.Auth.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			who := sess.Claims.Email
			if who == "" {
				who = email
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", who)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.client.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newWhoamiCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity in the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			claims, err := rt.client.Auth.Identity(cmd.Context())
			if err != nil {
				return err
			}
			if claims.Anonymous() {
				fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), claims.Email)
			return nil
		},
	}
}

func newCoursesCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "courses",
		Short: "List the course catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			courses, err := rt.client.Catalog.FetchCourses(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load courses: %w", err)
			}
			printCourses(cmd, courses)
			return nil
		},
	}
}

func newBuyCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <course-name>",
		Short: "Buy a course by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			receipt, courses, err := rt.client.BuyAndRefresh(cmd.Context(), name)
			if err != nil && receipt.CourseName == "" {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bought %q for %s\n", receipt.CourseName, receipt.Email)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: course list not refreshed: %v\n", err)
				return nil
			}
			if courses != nil {
				printCourses(cmd, courses)
			}
			return nil
		},
	}
}

func newDashboardCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the signed-in welcome message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := rt.client.Dashboard.Welcome(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func printCourses(cmd *cobra.Command, courses []catalog.Course) {
	for _, c := range courses {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.ID, c.Name)
	}
}
