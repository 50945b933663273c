package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apphub/backend/internal/core/services"
	"github.com/apphub/backend/internal/infrastructure/db"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/pkg/utils/keygen"
	"github.com/apphub/backend/pkg/utils/sshkeygen"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encryption key, an admin token and an SFTP key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			encKey, err := keygen.GenerateEncryptionKey()
			if err != nil {
				return fmt.Errorf("generate encryption key: %w", err)
			}
			fmt.Printf("security.encryption_key: %s\n", encKey)
			fmt.Printf("auth.admin_token:        %s\n", keygen.GenerateRandomPassword(32))

			sshPath, _ := cmd.Flags().GetString("ssh-key")
			if sshPath == "" {
				return nil
			}
			pub, err := sshkeygen.GenerateEd25519KeyPair(sshPath, sshPath+".pub")
			if errors.Is(err, sshkeygen.ErrKeyExists) {
				fmt.Printf("SFTP key %s already exists (skipped)\n", sshPath)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("SFTP private key: %s\n", sshPath)
			fmt.Printf("Add to the storage host's authorized_keys:\n%s", pub)
			return nil
		},
	}
	home, _ := os.UserHomeDir()
	def := ""
	if home != "" {
		def = filepath.Join(home, ".ssh", "apphub_ed25519")
	}
	cmd.Flags().String("ssh-key", def, "path of the SFTP private key to create (empty to skip)")
	return cmd
}

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Export or import saved workapp templates as YAML",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Write all templates to file, or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTemplates(cmd, func(t *services.TemplateService) error {
				var w io.Writer = os.Stdout
				if len(args) == 1 {
					f, err := os.Create(args[0])
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				n, err := t.ExportTemplates(cmd.Context(), w)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "exported %d templates\n", n)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Merge templates from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTemplates(cmd, func(t *services.TemplateService) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				n, err := t.ImportTemplates(cmd.Context(), f)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "imported %d templates\n", n)
				return nil
			})
		},
	})
	return cmd
}

// withTemplates opens the state store for offline template maintenance.
func withTemplates(cmd *cobra.Command, fn func(*services.TemplateService) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	repo, closeRepo, err := db.OpenStateRepository(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer closeRepo()

	state := services.NewStateService(repo, log, cfg.Security.EncryptionKey)
	return fn(services.NewTemplateService(state, nil, nil, log))
}
