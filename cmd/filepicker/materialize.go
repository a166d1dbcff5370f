package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ondrasimku/filepicker-go/internal/blob"
	"github.com/ondrasimku/filepicker-go/internal/domain"
	"github.com/ondrasimku/filepicker-go/internal/log"
	"github.com/ondrasimku/filepicker-go/internal/materialize"
	"github.com/ondrasimku/filepicker-go/internal/metrics"
	"github.com/ondrasimku/filepicker-go/internal/storage/local"
	"github.com/spf13/cobra"
)

func materializeCmd() *cobra.Command {
	var (
		format  string
		blobDir string
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "materialize <file>...",
		Short: "Materialize files the way a widget would and print them as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			df, err := domain.ParseDataFormat(format)
			if err != nil {
				return err
			}

			if blobDir == "" {
				blobDir, err = os.MkdirTemp("", "filepicker-blobs-")
				if err != nil {
					return fmt.Errorf("failed to create blob directory: %w", err)
				}
			}
			backend, err := local.NewLocalStorage(blobDir)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}

			m := metrics.NewNop()
			logger := log.New(cmd.ErrOrStderr(), "warn", "text")
			store := blob.NewStore(backend, baseURL, m, logger)

			raws := make([]domain.RawFile, 0, len(args))
			for _, path := range args {
				raw, err := rawFile(path)
				if err != nil {
					return err
				}
				raws = append(raws, raw)
			}

			files, err := materialize.New(store, m).Batch(cmd.Context(), raws, 0, df)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(files)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(domain.Base64), "Data format (Base64, Binary or Text)")
	cmd.Flags().StringVar(&blobDir, "blob-dir", "", "Directory for payloads of large files (default: a temporary directory)")
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Public base URL used in transient references")

	return cmd
}

func rawFile(path string) (domain.RawFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.RawFile{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return domain.RawFile{}, fmt.Errorf("%s is a directory", path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return domain.RawFile{}, fmt.Errorf("failed to detect type of %s: %w", path, err)
	}

	contentType, _, _ := strings.Cut(mt.String(), ";")

	return domain.RawFile{
		ID:     path,
		Name:   filepath.Base(path),
		Type:   contentType,
		Size:   info.Size(),
		Source: domain.FileSource(path),
	}, nil
}
