package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := rt.openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()

			fmt.Println("Schema is up to date")
			return nil
		},
	}
}
