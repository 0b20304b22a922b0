package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"uplift/internal/app"
	"uplift/internal/ui"
	"uplift/pkg/types"
)

type UploadFlags struct {
	Destination  string
	Comment      string
	SkipExisting bool
	AcceptPolicy string
}

var uploadFlags UploadFlags

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload [files or directories...]",
	Short: "Upload files to a destination on the server",
	Long: `Upload one or more files or directories to a destination path on the
upload server. Directories are walked recursively and each file keeps its
path relative to the directory you picked.

Files are filtered against the destination's accept policy before they are
queued; anything the server would reject is dropped up front.`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateUploadFlags(&uploadFlags)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runUpload(&uploadFlags, args); err != nil {
			log.Fatalf("Upload failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadFlags.Destination, "dest", "d", "", "Destination path on the server (required)")
	uploadCmd.Flags().StringVarP(&uploadFlags.Comment, "comment", "c", "", "Comment sent with every file")
	uploadCmd.Flags().BoolVar(&uploadFlags.SkipExisting, "skip-existing", false, "Ask the server to skip files that already exist")
	uploadCmd.Flags().StringVar(&uploadFlags.AcceptPolicy, "accept", "", "Accept policy override, e.g. '.png,.jpg|image/*'")

	uploadCmd.MarkFlagRequired("dest")

	viper.BindPFlag("upload.skip_existing", uploadCmd.Flags().Lookup("skip-existing"))
	viper.BindPFlag("upload.accept_policy", uploadCmd.Flags().Lookup("accept"))
}

// validateUploadFlags validates the upload command flags
func validateUploadFlags(flags *UploadFlags) error {
	if flags.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if flags.Destination[0] != '/' {
		flags.Destination = "/" + flags.Destination
	}
	return nil
}

// runUpload creates the engine, enqueues the arguments and waits for the
// queue to drain.
func runUpload(flags *UploadFlags, args []string) error {
	ctx := createContext()

	if flags.AcceptPolicy != "" {
		cfg.Upload.AcceptPolicy = flags.AcceptPolicy
	}
	if flags.SkipExisting {
		cfg.Upload.SkipExisting = true
	}

	uploader := app.New(cfg, newLogger())

	handles, err := collectHandles(args)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := uploader.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Engine stopped: %v", err)
		}
	}()

	reporter := ui.NewProgressReporter(uploader.Queue, uploader.Console())
	go reporter.Run(runCtx)

	uploader.EnqueueFiles(flags.Destination, handles, flags.Comment)

	if err := uploader.WaitIdle(ctx); err != nil {
		return err
	}

	s := uploader.Queue.Snapshot()
	uploader.Console().QueueSummary(s.DoneCount, s.DoneBytes, s.ErrorCount)
	if s.ErrorCount > 0 {
		return fmt.Errorf("%d upload(s) failed", s.ErrorCount)
	}
	return nil
}

// collectHandles expands the command arguments into file handles. A directory
// argument acts as the picked root: every file below it keeps its relative
// path.
func collectHandles(args []string) ([]types.FileHandle, error) {
	var handles []types.FileHandle
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if !info.IsDir() {
			h, err := types.NewOSFile("", arg)
			if err != nil {
				return nil, err
			}
			handles = append(handles, h)
			continue
		}

		root := arg
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			h, err := types.NewOSFile(root, path)
			if err != nil {
				return err
			}
			handles = append(handles, h)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}
	return handles, nil
}
