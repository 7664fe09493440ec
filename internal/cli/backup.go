package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/kilupskalvis/listings/internal/backup"
	"github.com/spf13/cobra"
)

var backupToS3 bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the store",
	Long: `Write a consistent snapshot of a bbolt store to backup.dir, or upload it to
backup.s3_bucket with --s3. S3 credentials come from the standard AWS
environment, shared config or instance role.

Examples:
  listings backup
  listings backup --s3`,
	Args: cobra.NoArgs,
	Run:  runBackup,
}

func init() {
	backupCmd.Flags().BoolVar(&backupToS3, "s3", false, "Upload to the configured S3 bucket")
}

func runBackup(cmd *cobra.Command, _ []string) {
	c := initContext(nil)
	defer c.Close()

	now := time.Now()
	var (
		res *backup.Result
		err error
	)
	if backupToS3 {
		bc := c.Config.Backup
		var target *backup.S3Target
		target, err = backup.NewS3Target(cmd.Context(), backup.S3Config{
			Bucket:          bc.S3Bucket,
			Region:          bc.S3Region,
			Endpoint:        bc.S3Endpoint,
			PathStyle:       bc.S3PathStyle,
			AccessKeyID:     os.Getenv("LISTINGS_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("LISTINGS_S3_SECRET_ACCESS_KEY"),
			Prefix:          bc.S3Prefix,
		})
		if err == nil {
			res, err = target.Upload(cmd.Context(), c.Store, now)
		}
	} else {
		res, err = backup.ToDir(c.Store, c.Config.Backup.Dir, now)
	}
	if err != nil {
		exitError("backup failed: %v", err)
	}

	c.Logger.Info("backup written", "location", res.Location, "bytes", res.Bytes)
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", res.Location, res.Bytes)
}
