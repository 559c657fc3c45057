package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gridsense/pdmon/internal/db/models"
	"github.com/gridsense/pdmon/internal/kafka"
	"github.com/spf13/cobra"
)

// triggerCommand asks a running worker to start a job through Kafka
func triggerCommand(rt *runtime) *cobra.Command {
	var requestedBy string

	cmd := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Request an immediate job run from the running worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rt.cfg.Kafka.Enabled {
				return fmt.Errorf("kafka is disabled, use the ops API or a one-shot command instead")
			}

			manager, err := kafka.NewManager(&rt.cfg.Kafka, rt.logger)
			if err != nil {
				return err
			}
			defer manager.Stop()

			if err := manager.RequestJob(args[0], requestedBy); err != nil {
				return fmt.Errorf("failed to request job: %w", err)
			}

			fmt.Printf("Requested %s on %s\n", args[0], rt.cfg.Kafka.JobRequestsTopic)
			return nil
		},
	}

	hostname, _ := os.Hostname()
	cmd.Flags().StringVar(&requestedBy, "requested-by", hostname, "Name recorded on the request")
	return cmd
}

// tokenCommand issues an operator token for the ops API
func tokenCommand(rt *runtime) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an ops API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := models.Role(role)
			if r != models.RoleAdmin && r != models.RoleViewer {
				return fmt.Errorf("unknown role %q", role)
			}
			if ttl <= 0 {
				ttl = time.Duration(rt.cfg.JWT.ExpirationHours) * time.Hour
			}

			token, err := models.GenerateToken(rt.cfg.JWT.Secret, args[0], r, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(models.RoleViewer), "Role: admin or viewer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime, defaults to jwt.expiration_hours")
	return cmd
}
