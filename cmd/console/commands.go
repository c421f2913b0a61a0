package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jrsteele09/hms-console/internal/config"
	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/jrsteele09/hms-console/realtime"
	"github.com/jrsteele09/hms-console/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func loginCmd(conf func() config.Config) *cobra.Command {
	var email, password, otp string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				p, err := prompt(cmd, "Password: ")
				if err != nil {
					return err
				}
				password = p
			}

			c, err := newConsole(conf())
			if err != nil {
				return err
			}
			defer c.close()

			profile, err := c.manager.Login(cmd.Context(), email, password, otp)
			switch {
			case errors.Is(err, apperrors.ErrOTPRequired):
				return errors.New("this account requires a one-time password, rerun with --otp")
			case errors.Is(err, apperrors.ErrAuthentication):
				return errors.New("invalid email or password")
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", profile.DisplayName(), strings.Join(profile.RoleStrings(), ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "staff email")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	cmd.Flags().StringVar(&otp, "otp", "", "one-time password")
	return cmd
}

func logoutCmd(conf func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newConsole(conf())
			if err != nil {
				return err
			}
			defer c.close()

			if err := c.manager.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func whoamiCmd(conf func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newConsole(conf())
			if err != nil {
				return err
			}
			defer c.close()

			state, err := c.manager.Restore(cmd.Context())
			if err != nil {
				return err
			}
			if state != session.Authenticated {
				return apperrors.ErrNoSession
			}

			profile := c.manager.User()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s>\n", profile.DisplayName(), profile.Email)
			fmt.Fprintf(out, "department:  %s\n", profile.Department)
			fmt.Fprintf(out, "roles:       %s\n", strings.Join(profile.RoleStrings(), ", "))
			fmt.Fprintf(out, "expires in:  %s\n", time.Until(c.manager.Expiry()).Round(time.Second))
			return nil
		},
	}
}

func watchCmd(conf func() config.Config) *cobra.Command {
	var topics []string
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and stream hospital events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := conf()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			c, err := newConsole(cfg, session.WithOnSessionExpired(func(err error) { cancel(err) }))
			if err != nil {
				return err
			}
			defer c.close()

			state, err := c.manager.Restore(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				return err
			}
			if state != session.Authenticated {
				return apperrors.ErrNoSession
			}
			log.Info().Str("user", c.manager.User().Email).Time("expiry", c.manager.Expiry()).Msg("session restored")

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("metrics server")
					}
				}()
				defer srv.Close()
			}

			sub, err := realtime.NewSubscriber(cfg.GetAPIURL(), c.manager,
				realtime.WithTopics(topics...),
				realtime.WithRecoverer(c.manager),
				realtime.WithReconnectDelay(cfg.GetReconnectDelay()),
			)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			sub.Handle("*", func(e realtime.Event) {
				fmt.Fprintf(out, "%s  %-14s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Topic, e.Data)
			})

			err = sub.Run(ctx)
			if cause := context.Cause(ctx); cause != nil && errors.Is(cause, apperrors.ErrSessionExpired) {
				return cause
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topic", realtime.DefaultTopics, "topics to subscribe to")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve session metrics on this address")
	return cmd
}

func prompt(cmd *cobra.Command, label string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
	}
	return strings.TrimSpace(line), nil
}
