package main

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"egocoach/internal/memory"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
)

const (
	manifestMember = "manifest.json"
	databaseMember = "knowledge.db"
)

// manifest is the first member of every backup archive.
type manifest struct {
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	Documents    int       `json:"documents"`
	Chunks       int       `json:"chunks"`
	EmbeddingDim int       `json:"embedding_dim"`
	ConfigMember string    `json:"config_member,omitempty"`
}

type archiveEntry struct {
	member string
	path   string
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the knowledge base and config into a .tar.gz",
		Long: `Takes a consistent snapshot of the knowledge database and writes it,
together with the config file and a manifest, to a compressed archive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if outputPath == "" {
				dir := filepath.Join(cfg.General.DataDir, "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, "egocoach-backup-"+time.Now().Format("20060102-150405")+".tar.gz")
			}

			m, err := createBackup(cmd.Context(), cfg.Storage.DBPath, cfgPath, outputPath)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			size := int64(0)
			if info, err := os.Stat(outputPath); err == nil {
				size = info.Size()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s (%s)\n", outputPath, humanSize(size))
			fmt.Fprintf(cmd.OutOrStdout(), "  %d documents, %d chunks", m.Documents, m.Chunks)
			if m.ConfigMember != "" {
				fmt.Fprintf(cmd.OutOrStdout(), ", config %s", m.ConfigMember)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "archive path (default: <dataDir>/backups/egocoach-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Replace the knowledge base with the contents of a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbPath := cfg.Storage.DBPath

			if !force {
				for _, p := range []string{dbPath, cfgPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s exists; restore would overwrite it (use --force)", p)
					}
				}
			}

			m, restored, err := restoreBackup(args[0], dbPath, cfgPath)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored backup from %s (created %s, %d documents)\n",
				args[0], m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Documents)
			for _, p := range restored {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite the existing database and config")
	return cmd
}

// createBackup snapshots the database at dbPath and archives it with the
// config file (when present) into outputPath.
func createBackup(ctx context.Context, dbPath, cfgPath, outputPath string) (*manifest, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("no knowledge database at %s", dbPath)
	}
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	stage, err := os.MkdirTemp("", "egocoach-backup-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(stage)

	snapshot := filepath.Join(stage, databaseMember)
	if err := store.Snapshot(ctx, snapshot); err != nil {
		return nil, err
	}
	st, err := store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	m := &manifest{
		Version:      version,
		CreatedAt:    time.Now().UTC(),
		Documents:    st.Documents,
		Chunks:       st.Chunks,
		EmbeddingDim: st.EmbeddingDim,
	}
	entries := []archiveEntry{{member: databaseMember, path: snapshot}}
	if _, err := os.Stat(cfgPath); err == nil {
		m.ConfigMember = "config" + filepath.Ext(cfgPath)
		entries = append(entries, archiveEntry{member: m.ConfigMember, path: cfgPath})
	}

	if err := writeArchive(outputPath, m, entries); err != nil {
		return nil, err
	}
	return m, nil
}

// writeArchive writes the manifest followed by entries. The archive only
// appears at outputPath once it is complete.
func writeArchive(outputPath string, m *manifest, entries []archiveEntry) (err error) {
	partial := outputPath + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(partial)
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestMember,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}

	for _, e := range entries {
		if err := addFileToTar(tw, e); err != nil {
			return fmt.Errorf("add %s: %w", e.member, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(partial, outputPath)
}

func addFileToTar(tw *tar.Writer, e archiveEntry) error {
	file, err := os.Open(e.path)
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
	header.Name = e.member
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// readArchive extracts the manifest and every member it names into stage.
// Members it does not name are skipped.
func readArchive(archivePath, stage string) (*manifest, map[string]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	header, err := tr.Next()
	if err != nil || header.Name != manifestMember {
		return nil, nil, errors.New("not an egocoach backup: missing manifest")
	}
	var m manifest
	if err := json.NewDecoder(io.LimitReader(tr, 1<<20)).Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}

	wanted := map[string]bool{databaseMember: true}
	if m.ConfigMember != "" {
		if m.ConfigMember != filepath.Base(m.ConfigMember) || m.ConfigMember == manifestMember {
			return nil, nil, fmt.Errorf("invalid config member %q", m.ConfigMember)
		}
		wanted[m.ConfigMember] = true
	}
	staged := make(map[string]string)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if !wanted[header.Name] {
			logger.Warn("skipping unexpected archive member", "name", header.Name)
			continue
		}
		dest := filepath.Join(stage, header.Name)
		if err := writeFile(dest, tr); err != nil {
			return nil, nil, fmt.Errorf("extract %s: %w", header.Name, err)
		}
		staged[header.Name] = dest
	}
	if _, ok := staged[databaseMember]; !ok {
		return nil, nil, errors.New("archive has no database")
	}
	return &m, staged, nil
}

// restoreBackup installs the archived database at dbPath and the archived
// config at cfgPath. A config saved in another format is placed next to
// cfgPath under its own extension.
func restoreBackup(archivePath, dbPath, cfgPath string) (*manifest, []string, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, nil, err
	}
	stage, err := os.MkdirTemp(filepath.Dir(dbPath), ".restore-*")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(stage)

	m, staged, err := readArchive(archivePath, stage)
	if err != nil {
		return nil, nil, err
	}

	// The snapshot is self-contained; old WAL files would be replayed over it.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return nil, nil, err
		}
	}
	if err := installFile(staged[databaseMember], dbPath); err != nil {
		return nil, nil, err
	}
	restored := []string{dbPath}

	if src, ok := staged[m.ConfigMember]; ok {
		target := cfgPath
		if ext := filepath.Ext(m.ConfigMember); ext != filepath.Ext(cfgPath) {
			target = filepath.Join(filepath.Dir(cfgPath), "config"+ext)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, nil, err
		}
		if err := installFile(src, target); err != nil {
			return nil, nil, err
		}
		restored = append(restored, target)
	}
	return m, restored, nil
}

// installFile moves src to dest, copying when they are on different filesystems.
func installFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(dest, in)
}

func writeFile(dest string, r io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 2; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMG"[exp])
}
