package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stemsi/cbt-backend/internal/repository"
	"github.com/stemsi/cbt-backend/internal/service"
)

func seedStudentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-students",
		Short: "Import students from a CSV file (nisn,name,class_name,password)",
		Args:  cobra.NoArgs,
		RunE:  runSeedStudents,
	}
	cmd.Flags().StringP("file", "f", "", "CSV file to import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runSeedStudents(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("file")
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	e := loadEnv()
	pool, err := e.connect(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	auth := service.NewAuthService(e.cfg, nil)
	students := service.NewStudentService(repository.NewStudentRepository(pool), auth, e.log)

	res, err := students.ImportCSV(cmd.Context(), file)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created: %d, Updated: %d, Skipped: %d\n", res.Created, res.Updated, len(res.Skipped))
	for _, s := range res.Skipped {
		fmt.Fprintf(out, "  skipped %s\n", s)
	}
	return nil
}
