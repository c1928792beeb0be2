package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fnpack/cli/output"
	"github.com/fluxbase-eu/fnpack/internal/pack"
	"github.com/fluxbase-eu/fnpack/internal/storage"
)

var (
	publishBucket  string
	publishPrefix  string
	publishPackage bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload the packaged archives to storage",
	Long: `Upload the archives of the last packaging to the configured storage. Archives
whose content is already stored are skipped.

Examples:
  fnpack publish
  fnpack publish --package --prefix releases/v1.2.0
  fnpack publish --bucket artifacts -o json`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishBucket, "bucket", "", "bucket to upload to (default storage.s3_bucket or fnpack)")
	publishCmd.Flags().StringVar(&publishPrefix, "prefix", "", "key prefix (default storage.prefix)")
	publishCmd.Flags().BoolVar(&publishPackage, "package", false, "package the service before publishing")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	proj, err := loadProject(ctx)
	if err != nil {
		return err
	}
	defer proj.close()

	p, err := proj.pipeline()
	if err != nil {
		return err
	}

	var artifacts []pack.Artifact
	if publishPackage {
		report, err := p.Run(ctx)
		if err != nil {
			return err
		}
		artifacts = report.Artifacts
	} else {
		artifacts, err = listArchives(p.WorkDir())
		if err != nil {
			return err
		}
	}
	if len(artifacts) == 0 {
		return fmt.Errorf("no archives found in %s, run fnpack package first", filepath.Join(p.WorkDir(), pack.ServerlessFolder))
	}

	store, err := storage.NewFromConfig(&proj.cfg.Storage)
	if err != nil {
		return err
	}
	if err := store.Health(ctx); err != nil {
		return err
	}

	bucket := publishBucket
	if bucket == "" {
		bucket = proj.cfg.Storage.S3Bucket
	}
	prefix := publishPrefix
	if prefix == "" {
		prefix = proj.cfg.Storage.Prefix
	}

	published, err := storage.Publish(ctx, store, bucket, prefix, artifacts, proj.metrics)
	if err != nil {
		return err
	}

	if err := GetFormatter().PrintReport(publishedTable(published), published); err != nil {
		return err
	}
	GetFormatter().PrintSuccess(fmt.Sprintf("Published %d archive(s) to %s", len(published), store.Name()))
	return nil
}

// listArchives returns the archives of an earlier packaging in name order
func listArchives(workDir string) ([]pack.Artifact, error) {
	dir := filepath.Join(workDir, pack.ServerlessFolder)
	matches, err := doublestar.Glob(os.DirFS(dir), "*.zip")
	if err != nil {
		return nil, err
	}

	var artifacts []pack.Artifact
	for _, name := range matches {
		full := filepath.Join(dir, filepath.FromSlash(name))
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		artifacts = append(artifacts, pack.Artifact{
			Name: name[:len(name)-len(path.Ext(name))],
			Path: full,
			Size: info.Size(),
		})
	}
	return artifacts, nil
}

func publishedTable(published []storage.Published) output.TableData {
	data := output.TableData{
		Headers: []string{"ARCHIVE", "BUCKET", "KEY", "SIZE", "STATUS"},
	}
	for _, p := range published {
		status := "uploaded"
		if p.Skipped {
			status = "unchanged"
		}
		data.Rows = append(data.Rows, []string{p.Name, p.Bucket, p.Key, formatSize(p.Size), status})
	}
	return data
}
