package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gallerydesk/internal/config"
	"github.com/gallerydesk/internal/db"
	"github.com/gallerydesk/internal/service"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"
)

func newUserCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage dashboard users",
	}
	cmd.AddCommand(newUserAddCmd(cfgPath))
	return cmd
}

func newUserAddCmd(cfgPath *string) *cobra.Command {
	var email, password, fullName string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a dashboard user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(password) == "" {
				return errors.New("--password is required")
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			gdb, err := db.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}

			user, err := service.NewUserService(gdb).Create(service.UserInput{
				Username: args[0],
				Password: password,
				Email:    email,
				FullName: fullName,
			})
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("user created", "user", user.Username, "id", user.ID)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", user.Username)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "commit author email")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	cmd.Flags().StringVar(&fullName, "name", "", "commit author name")
	return cmd
}
