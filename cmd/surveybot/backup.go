package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"surveybot/internal/config"

	"github.com/spf13/cobra"
)

// backupFile is one file in a backup archive. Name is the archive entry
// ("config.json", "results.db", ...), which restore maps back to a path.
type backupFile struct {
	Name string
	Path string
}

// backupSet lists the files a backup covers for cfg, whether or not they exist.
func backupSet(cfgPath string, cfg *config.Config) []backupFile {
	files := []backupFile{
		{Name: "config.json", Path: cfgPath},
		{Name: "recipients.txt", Path: cfg.Recipients.Path},
	}
	if cfg.Results.DBPath != "" {
		files = append(files,
			backupFile{Name: "results.db", Path: cfg.Results.DBPath},
			backupFile{Name: "results.db-wal", Path: cfg.Results.DBPath + "-wal"},
			backupFile{Name: "results.db-shm", Path: cfg.Results.DBPath + "-shm"},
		)
	}
	return files
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config, recipient file and results database",
		Long: `Creates a compressed .tar.gz archive containing the configuration,
the pending recipient file and the results database. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, _ := loadOrDefaults()

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("surveybot-backup-%s.tar.gz", ts))
			}

			var files []backupFile
			for _, f := range backupSet(cfgPath, cfg) {
				if _, err := os.Stat(f.Path); err == nil {
					files = append(files, f)
				}
			}
			if len(files) == 0 {
				return fmt.Errorf("nothing to back up (config: %s)", cfgPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, f := range files {
				var size int64
				if info, err := os.Stat(f.Path); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", f.Name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.surveybot/backups/surveybot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore data from a backup archive",
		Long: `Restores the configuration, recipient file and results database from
an archive created by 'surveybot backup'. Stop 'surveybot run' first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, _ := loadOrDefaults()
			set := backupSet(cfgPath, cfg)

			if !force {
				for _, f := range set {
					if _, err := os.Stat(f.Path); err == nil {
						fmt.Printf("WARNING: %s exists and would be overwritten.\n", f.Path)
						return fmt.Errorf("restore aborted (use --force to proceed)")
					}
				}
			}

			restored, err := extractTarGz(args[0], set)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// createTarGz writes files into a .tar.gz archive under their entry names.
func createTarGz(outputPath string, files []backupFile) (err error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := outFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	for _, f := range files {
		if err := addFileToTar(tarWriter, f); err != nil {
			return fmt.Errorf("add %s: %w", f.Path, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func addFileToTar(tw *tar.Writer, f backupFile) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = f.Name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz restores the entries named in set to their paths. Unknown
// entries are skipped.
func extractTarGz(archivePath string, set []backupFile) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	targets := make(map[string]string, len(set))
	for _, f := range set {
		targets[f.Name] = f.Path
	}

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		targetPath, ok := targets[strings.TrimPrefix(header.Name, "./")]
		if !ok || header.Typeflag != tar.TypeReg {
			logger.Warn("skipping unknown backup entry", "name", header.Name)
			continue
		}
		if err := writeFileFrom(targetPath, tarReader); err != nil {
			return nil, err
		}
		restored = append(restored, targetPath)
	}

	return restored, nil
}

func writeFileFrom(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
