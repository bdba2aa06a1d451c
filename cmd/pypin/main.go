package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/m-roth/pypin/internal/downloader"
	"github.com/m-roth/pypin/internal/index"
	"github.com/m-roth/pypin/internal/lockfile"
	"github.com/m-roth/pypin/internal/manifest"
	"github.com/m-roth/pypin/internal/requirements"
	"github.com/m-roth/pypin/internal/resolver"
)

var (
	requirementsPath string
	lockfilePath     string
	manifestPath     string
	packageSetPath   string
	workers          int
	indexURL         string
	cacheDir         string
	verbose          bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pypin",
		Short: "pypin - pins Python dependencies to exact versions and hashes",
		Long:  "pypin resolves Python package requirements against a package index and generates hash-locked requirement files for reproducible installs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogger(verbose)
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default ~/.pypin/cache)")

	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Generate a hash-locked requirements file",
		RunE:  runLock,
	}
	lockCmd.Flags().StringVarP(&requirementsPath, "requirements", "r", "./requirements.txt", "Input requirements path")
	lockCmd.Flags().StringVarP(&lockfilePath, "output", "o", "./requirements.lock", "Output lockfile path")
	lockCmd.Flags().IntVarP(&workers, "workers", "w", 5, "Parallel download workers")
	lockCmd.Flags().StringVarP(&indexURL, "index-url", "i", "https://pypi.org", "Package index URL")

	bootstrapCmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Fetch the bootstrap dependency set",
		Long:  "Bootstrap resolves the built-in dependency manifest: pinned artifacts are downloaded and verified against their sha256, aliases are looked up in the local package set.",
		RunE:  runBootstrap,
	}
	bootstrapCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Manifest YAML overriding the built-in dependency set")
	bootstrapCmd.Flags().StringVarP(&packageSetPath, "package-set", "p", "./packages.yaml", "Local package set the aliases resolve against")
	bootstrapCmd.Flags().IntVarP(&workers, "workers", "w", 2, "Parallel download workers")

	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(bootstrapCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(verbose bool) error {
	cfg := zap.NewDevelopmentConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func defaultCacheDir() (string, error) {
	if cacheDir != "" {
		return cacheDir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pypin", "cache"), nil
}

func runLock(cmd *cobra.Command, args []string) error {
	log := zap.L().Sugar()

	log.Debugf("parsing requirements: %s", requirementsPath)
	parser := requirements.NewParser()
	parseResult, err := parser.Parse(requirementsPath)
	if err != nil {
		return fmt.Errorf("parsing requirements: %w", err)
	}

	if len(parseResult.Requirements) == 0 {
		return fmt.Errorf("no requirements found in %s", requirementsPath)
	}
	for _, skipped := range parseResult.Skipped {
		log.Warnf("skipping marker-guarded requirement: %s", skipped)
	}

	cache, err := defaultCacheDir()
	if err != nil {
		return err
	}

	idx := index.NewPyPI(indexURL, cache)
	dl := downloader.NewDownloader(workers, cache)

	log.Debugf("resolving %d requirements", len(parseResult.Requirements))
	res := resolver.NewResolver(idx, dl)
	pkgs, err := res.Resolve(parseResult.Requirements)
	if err != nil {
		return fmt.Errorf("resolving requirements: %w", err)
	}

	log.Debugf("resolved %d packages", len(pkgs))

	outFile, err := os.Create(lockfilePath)
	if err != nil {
		return fmt.Errorf("creating lockfile: %w", err)
	}
	defer outFile.Close()

	emitter := lockfile.NewEmitter(outFile)
	if err := emitter.Emit(pkgs, res.RequiredBy); err != nil {
		return fmt.Errorf("writing lockfile: %w", err)
	}

	fmt.Printf("Generated %s with %d packages\n", lockfilePath, len(pkgs))
	return nil
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	log := zap.L().Sugar()

	m := manifest.Bootstrap()
	if manifestPath != "" {
		f, err := os.Open(manifestPath)
		if err != nil {
			return fmt.Errorf("opening manifest: %w", err)
		}
		m, err = manifest.Load(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("loading manifest: %w", err)
		}
	}

	packageSet := index.NewLocal(packageSetPath)
	if err := packageSet.Load(); err != nil {
		return fmt.Errorf("loading package set: %w", err)
	}
	log.Debugf("local package set: %d packages", packageSet.Len())

	cache, err := defaultCacheDir()
	if err != nil {
		return err
	}
	dl := downloader.NewDownloader(workers, cache)

	var jobs []downloader.Job
	skipChecks := make(map[string]bool)
	for _, name := range m.Names() {
		desc, err := m.Get(name)
		if err != nil {
			return err
		}
		art, err := manifest.Resolve(desc, packageSet)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", name, err)
		}

		switch art.Kind {
		case manifest.KindFetched:
			jobs = append(jobs, downloader.Job{
				Name:     art.Name,
				URL:      art.URL,
				DestPath: dl.CachePath(filepath.Base(art.URL)),
				SHA256:   art.SHA256,
			})
			skipChecks[art.Name] = art.SkipChecks
		case manifest.KindAlias:
			fmt.Printf("%-12s -> %s (%s)\n", art.Name, art.Package.Dist(), art.Package.Source)
		}
	}

	results := dl.Download(jobs)
	failed := 0
	for _, result := range results {
		if result.Error != nil {
			failed++
			log.Errorf("fetching %s: %v", result.Job.Name, result.Error)
			continue
		}
		note := ""
		if skipChecks[result.Job.Name] {
			note = " (self-tests skipped)"
		}
		fmt.Printf("%-12s -> %s%s\n", result.Job.Name, result.Job.DestPath, note)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d artifacts failed to fetch", failed, len(jobs))
	}
	return nil
}
