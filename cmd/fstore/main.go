package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fstore-go/internal/app"
	"fstore-go/internal/config"
	"fstore-go/internal/fstore"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an FStoreApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Upload", "Delete").
// unlock prompts for the key passphrase when stored content is encrypted.
func newApp(ctx context.Context, operation string, unlock bool) (*app.FStoreApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var opts []app.Option
	if unlock && app.NeedsPassphrase(cfg) {
		p, err := readPassphrase("Passphrase: ")
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithPassphrase(p))
	}

	a, err := app.NewFStoreApp(ctx, cfg, operation, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo. FSTORE_PASSPHRASE
// takes precedence for non-interactive use.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("FSTORE_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("passphrase required: set FSTORE_PASSPHRASE or run from a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// requester is the identity commands act as.
func requester(cmd *cobra.Command) (string, error) {
	user, _ := cmd.Flags().GetString("user")
	return app.ResolveUser(user)
}

func uploadInput(cmd *cobra.Command, owner string) app.UploadInput {
	name, _ := cmd.Flags().GetString("name")
	public, _ := cmd.Flags().GetBool("public")
	tags, _ := cmd.Flags().GetStringSlice("tag")

	vis := string(fstore.VisibilityPrivate)
	if public {
		vis = string(fstore.VisibilityPublic)
	}
	return app.UploadInput{Owner: owner, Name: name, Visibility: vis, Tags: tags}
}

func printRecord(w io.Writer, r *fstore.FileRecord) {
	fmt.Fprintf(w, "%s  %-7s  %9s  %s  %s\n",
		r.ID,
		r.Visibility,
		units.BytesSize(float64(r.Size)),
		r.UploadedAt.Local().Format("2006-01-02 15:04:05"),
		r.Filename,
	)
}

var rootCmd = &cobra.Command{
	Use:          "fstore",
	Short:        "Quota-bounded file store",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration, storage and database",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.InitStorage(cmd.Context(), cfg); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Storage:     %s (compression: %s)\n", cfg.Storage.Type, cfg.Storage.Compression)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Lock:        %s\n", cfg.Lock.Type)
		if cfg.Quota.Enabled {
			fmt.Printf("Quota:       %s (warn at %.0f%%)\n", cfg.Quota.MaxSize, cfg.Quota.WarnThreshold)
		} else {
			fmt.Printf("Quota:       disabled\n")
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.InitStorage(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p1, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv("FSTORE_PASSPHRASE") == "" {
			p2, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if p1 != p2 {
				return fmt.Errorf("passphrases do not match")
			}
		}
		if err := app.InitKeys(cfg, p1); err != nil {
			return fmt.Errorf("initializing keys: %w", err)
		}
		fmt.Printf("Keys written to %s\n", filepath.Dir(cfg.Encryption.PrivateKeyPath))
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload PATH|-",
	Short: "Upload a file, or stdin with -",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := requester(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), "Upload", false)
		if err != nil {
			return err
		}
		defer a.Close()

		in := uploadInput(cmd, owner)
		var resp *fstore.UploadResponse
		if args[0] == "-" {
			resp, err = a.UploadReader(cmd.Context(), os.Stdin, in)
		} else {
			resp, err = a.UploadFile(cmd.Context(), args[0], in)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Uploaded %s\n", resp.Filename)
		fmt.Printf("  id:   %s\n", resp.ID)
		fmt.Printf("  type: %s\n", resp.ContentType)
		fmt.Printf("  size: %s\n", units.BytesSize(float64(resp.Size)))
		fmt.Printf("  url:  %s\n", resp.DownloadURL)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import [DIR]",
	Short: "Upload every file in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		owner, err := requester(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), "Import", false)
		if err != nil {
			return err
		}
		defer a.Close()

		target := "."
		if len(args) > 0 {
			target = args[0]
		}

		results, err := a.ImportDirectory(cmd.Context(), target, recursive, uploadInput(cmd, owner))
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("FAIL  %s: %v\n", r.Path, r.Err)
				continue
			}
			fmt.Printf("OK    %s  %s\n", r.Response.ID, r.Path)
		}
		fmt.Printf("Imported %d of %d file(s)\n", len(results)-failed, len(results))
		if failed > 0 {
			return fmt.Errorf("%d file(s) failed", failed)
		}
		return nil
	},
}

// download command
var downloadCmd = &cobra.Command{
	Use:   "download ID",
	Short: "Download a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		user, err := requester(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), "Download", true)
		if err != nil {
			return err
		}
		defer a.Close()

		if output == "-" {
			_, err := a.Download(cmd.Context(), args[0], user, os.Stdout)
			return err
		}
		if output == "" {
			rec, err := a.Info(cmd.Context(), args[0], user)
			if err != nil {
				return err
			}
			output = filepath.Base(rec.Filename)
		}

		f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		rec, err := a.Download(cmd.Context(), args[0], user, f)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(output)
			return err
		}
		fmt.Printf("Downloaded %s to %s\n", rec.Filename, output)
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requester(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), "Delete", false)
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.Delete(cmd.Context(), args[0], user)
		if err != nil {
			return err
		}
		if removed {
			fmt.Printf("Deleted %s\n", args[0])
		} else {
			fmt.Printf("Deleted %s (content was already missing)\n", args[0])
		}
		return nil
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv ID NEW_NAME",
	Short: "Rename a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requester(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), "Rename", false)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Rename(cmd.Context(), args[0], args[1], user)
		if err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", rec.ID, rec.Filename)
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List files",
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, _ := cmd.Flags().GetStringSlice("tag")
		all, _ := cmd.Flags().GetBool("all")
		publicOnly, _ := cmd.Flags().GetBool("public")
		q := fstore.ListQuery{Tags: tags, IncludePublic: all, PublicOnly: publicOnly}
		if v, _ := cmd.Flags().GetString("visibility"); v != "" {
			vis, err := fstore.ParseVisibility(v)
			if err != nil {
				return err
			}
			q.Visibility = vis
		}
		if !publicOnly {
			user, err := requester(cmd)
			if err != nil {
				return err
			}
			q.Requester = user
		}
		a, err := newApp(cmd.Context(), "List", false)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.List(cmd.Context(), q)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No files found.")
			return nil
		}
		for _, r := range recs {
			printRecord(os.Stdout, r)
		}
		return nil
	},
}

// info command
var infoCmd = &cobra.Command{
	Use:   "info ID",
	Short: "Show file metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := requester(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), "Info", false)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.Info(cmd.Context(), args[0], user)
		if err != nil {
			return err
		}
		fmt.Printf("ID:          %s\n", r.ID)
		fmt.Printf("Filename:    %s\n", r.Filename)
		fmt.Printf("Owner:       %s\n", r.OwnerID)
		fmt.Printf("Visibility:  %s\n", r.Visibility)
		fmt.Printf("Type:        %s\n", r.ContentType)
		fmt.Printf("Size:        %s (%d bytes)\n", units.BytesSize(float64(r.Size)), r.Size)
		fmt.Printf("SHA-256:     %s\n", r.Digest)
		fmt.Printf("Uploaded:    %s\n", r.UploadedAt.Local().Format(time.RFC3339))
		fmt.Printf("Tags:        %v\n", r.Tags)
		fmt.Printf("URL:         %s/%s\n", fstore.DownloadPathPrefix, r.ID)
		return nil
	},
}

// quota command
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show storage usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Quota", false)
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.Quota(cmd.Context())
		if err != nil {
			return err
		}
		if !snap.Enabled {
			fmt.Printf("Used: %s (quota disabled)\n", units.BytesSize(float64(snap.CurrentUsage)))
			return nil
		}
		fmt.Printf("Used:      %s of %s (%.1f%%)\n",
			units.BytesSize(float64(snap.CurrentUsage)), units.BytesSize(float64(snap.MaxSize)), snap.Percentage)
		fmt.Printf("Available: %s\n", units.BytesSize(float64(snap.Available)))
		if snap.NearLimit {
			fmt.Println("Warning: storage is near its limit")
		}
		return nil
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Report uploads that never completed",
	RunE: func(cmd *cobra.Command, args []string) error {
		grace, _ := cmd.Flags().GetDuration("grace")
		a, err := newApp(cmd.Context(), "Reconcile", false)
		if err != nil {
			return err
		}
		defer a.Close()

		orphans, err := a.Reconcile(cmd.Context(), grace)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Println("No incomplete uploads.")
			return nil
		}
		for _, o := range orphans {
			content := "content missing"
			if o.ContentPresent {
				content = "content present"
			}
			fmt.Printf("%s  %s  %s  %s\n", o.Record.ID, o.Record.OwnerID, o.Record.Filename, content)
		}
		return nil
	},
}

// metrics command
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Serve Prometheus metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Metrics", false)
		if err != nil {
			return err
		}
		defer a.Close()

		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			listen = cfg.Metrics.Listen
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", a.MetricsHandler())
		srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		fmt.Printf("Serving metrics on %s/metrics\n", listen)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("user", "u", "", "Act as this user (default $FSTORE_USER, then $USER)")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)

	for _, c := range []*cobra.Command{uploadCmd, importCmd} {
		c.Flags().StringSlice("tag", nil, "Tag to attach (repeatable, at most 5)")
		c.Flags().Bool("public", false, "Make the file readable by everyone")
	}
	uploadCmd.Flags().StringP("name", "n", "", "Stored filename (required for stdin)")
	importCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	downloadCmd.Flags().StringP("output", "o", "", "Output path, or - for stdout (default: stored filename)")
	lsCmd.Flags().StringSliceP("tag", "t", nil, "Only files carrying any of these tags (repeatable)")
	lsCmd.Flags().String("visibility", "", "Only files with this visibility (private or public)")
	lsCmd.Flags().BoolP("all", "a", false, "Include other users' public files")
	lsCmd.Flags().Bool("public", false, "List every user's public files instead of your own")
	reconcileCmd.Flags().Duration("grace", time.Hour, "Ignore uploads younger than this")
	metricsCmd.Flags().String("listen", "", "Listen address (default from config)")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(metricsCmd)
}
