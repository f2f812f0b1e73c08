/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"context"
	"fmt"

	"github.com/mautops/workflow-gin/internal/api"
	"github.com/mautops/workflow-gin/internal/auth"
	"github.com/mautops/workflow-gin/internal/config"
	"github.com/mautops/workflow-gin/internal/container"
	"github.com/mautops/workflow-gin/internal/engine"
	"github.com/mautops/workflow-gin/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a workflow definition",
	Long: `Deploy a workflow definition from a YAML or JSON file.
Deploying an existing key creates a new version. When --table is given
the business table is bound to the deployed definition.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		table, _ := cmd.Flags().GetString("table")
		tenant, _ := cmd.Flags().GetString("tenant")

		def, err := engine.LoadDefinitionFile(file)
		if err != nil {
			return fmt.Errorf("failed to load definition: %w", err)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger := api.NewLogger()

		ctr, err := container.NewContainer(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		ctx := auth.WithActor(context.Background(), auth.Actor{
			UserID:   "system",
			Name:     "system",
			TenantID: tenant,
			Admin:    true,
		})
		deployed, err := ctr.Definitions().Deploy(ctx, def)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"definition_key": deployed.Key,
			"version":        deployed.Version,
		}).Info("Definition deployed")

		if table != "" {
			if _, err := ctr.Definitions().BindTable(ctx, service.BindTableRequest{TableName: table, DefinitionKey: deployed.Key}); err != nil {
				return err
			}
			logger.WithField("table_name", table).Info("Business table bound")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringP("file", "f", "", "Definition file (.yaml, .yml or .json)")
	deployCmd.Flags().String("table", "", "Business table to bind to the definition")
	deployCmd.Flags().String("tenant", "", "Tenant of the definition")
	_ = deployCmd.MarkFlagRequired("file")
}
