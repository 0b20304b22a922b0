package cmd

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"uplift/internal/devserver"
)

type ServeFlags struct {
	Root    string
	Listen  string
	MaxSize int64
}

var serveFlags ServeFlags

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local upload server",
	Long: `Run a local implementation of the upload endpoints for development and
testing. Uploads are stored under the root directory; partial uploads are
kept as .part files and later uploads of the same path receive a resume
offer on their notification channel.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateServeFlags(&serveFlags)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(&serveFlags); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.Root, "root", "r", "", "Directory to store uploads in (required)")
	serveCmd.Flags().StringVarP(&serveFlags.Listen, "listen", "l", "", "Listen address (default :8080)")
	serveCmd.Flags().Int64Var(&serveFlags.MaxSize, "max-size", 0, "Maximum accepted upload size in bytes (0 = unlimited)")

	serveCmd.MarkFlagRequired("root")

	viper.BindPFlag("server.listen_addr", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("server.max_upload_size", serveCmd.Flags().Lookup("max-size"))
}

// validateServeFlags validates the serve command flags
func validateServeFlags(flags *ServeFlags) error {
	if flags.Root == "" {
		return fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(flags.Root, 0o755); err != nil {
		return fmt.Errorf("cannot create root directory: %w", err)
	}
	return nil
}

// runServe starts the dev server
func runServe(flags *ServeFlags) error {
	listen := cfg.Server.ListenAddr
	if flags.Listen != "" {
		listen = flags.Listen
	}
	maxSize := cfg.Server.MaxUploadSize
	if flags.MaxSize > 0 {
		maxSize = flags.MaxSize
	}

	srv := devserver.New(flags.Root, maxSize, newLogger())
	log.Printf("Serving uploads from %s on %s", flags.Root, listen)
	return http.ListenAndServe(listen, srv.Router())
}
