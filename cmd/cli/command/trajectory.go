package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"twinbridge/database"
	"twinbridge/internal/trajectory"
)

// trajectory.go = manage trajectories stored in DATABASE_URL

var trajectoryCmd = &cobra.Command{
	Use:   "trajectory",
	Short: "Manage stored trajectories",
}

var trajectoryImportCmd = &cobra.Command{
	Use:   "import <name> <file>",
	Short: "Parse a trajectory file and store it under name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")
		channels, _ := cmd.Flags().GetInt("channels")

		seq, err := trajectory.LoadFile(args[1], channels, trajectory.LoadOptions{Strict: strict})
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[1], err)
		}

		repo, closeDB, err := openRepository()
		if err != nil {
			return err
		}
		defer closeDB()

		if err := repo.Save(cmd.Context(), args[0], seq); err != nil {
			return fmt.Errorf("failed to store trajectory: %w", err)
		}
		fmt.Printf("✓ Stored %q: %d points, %d channels, %.3fs (%d rows skipped, %d out of order)\n",
			args[0], seq.Len(), seq.Channels, seq.Duration(), seq.Skipped, seq.OutOfOrder)
		return nil
	},
}

var trajectoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored trajectories",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeDB, err := openRepository()
		if err != nil {
			return err
		}
		defer closeDB()

		names, err := repo.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No trajectories stored.")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var trajectoryDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a stored trajectory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, closeDB, err := openRepository()
		if err != nil {
			return err
		}
		defer closeDB()

		if err := repo.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Deleted %q\n", args[0])
		return nil
	},
}

func openRepository() (trajectory.Repository, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.OpenGorm(cfg, newLogger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return trajectory.NewRepository(db), func() { database.Close(db) }, nil
}

func init() {
	rootCmd.AddCommand(trajectoryCmd)
	trajectoryCmd.AddCommand(trajectoryImportCmd, trajectoryListCmd, trajectoryDeleteCmd)

	trajectoryImportCmd.Flags().Bool("strict", false, "reject files whose timestamps go backwards")
	trajectoryImportCmd.Flags().Int("channels", trajectory.DefaultChannels, "angle columns per row")
}
