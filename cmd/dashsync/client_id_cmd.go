package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smart-mcp-proxy/dashsync/internal/identity"
	"github.com/smart-mcp-proxy/dashsync/internal/storage"
)

func newClientIDCmd(c *cli) *cobra.Command {
	var (
		reset      bool
		backupPath string
	)

	cmd := &cobra.Command{
		Use:   "client-id",
		Short: "Show the persisted client identifier",
		Long: `Show the client identifier sent with every push channel connection. It is
created on first use and stored in the data directory.

Examples:
  dashsync client-id
  dashsync client-id --reset
  dashsync client-id --backup /tmp/dashsync.db.bak`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			logger, err := c.newLogger(false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := storage.NewBoltDB(cfg.DataDir, logger)
			if err != nil {
				return c.fail(fmt.Errorf("failed to open identity store: %w", err), "")
			}
			defer db.Close()

			if backupPath != "" {
				if err := db.Backup(backupPath); err != nil {
					return c.fail(fmt.Errorf("backup failed: %w", err), "")
				}
				logger.Infow("Identity store backed up", "path", backupPath)
			}
			if reset {
				if err := db.DeleteIdentity(); err != nil {
					return c.fail(fmt.Errorf("failed to reset client identifier: %w", err), "")
				}
			}

			id, err := identity.NewProvider(db, logger).ClientID()
			if err != nil {
				return c.fail(err, "")
			}
			record, err := db.GetIdentity()
			if err != nil {
				return c.fail(err, "")
			}

			doc := map[string]interface{}{
				"client_id": id,
				"created":   record.Created,
				"database":  db.Path(),
			}
			return c.ack(id, doc)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Discard the stored identifier and create a new one")
	cmd.Flags().StringVar(&backupPath, "backup", "", "Copy the identity database to this path first")
	return cmd
}
