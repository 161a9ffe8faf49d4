package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mabletask/tracker/config"
	"mabletask/tracker/database"
	"mabletask/tracker/storage"
)

// Namespaces standing in for the browser's durable and per-tab storage.
const (
	durableNamespace   = "local"
	ephemeralNamespace = "session"
)

type localState struct {
	db        *database.SQLiteClient
	durable   *storage.SQLite
	ephemeral *storage.SQLite
}

func openState(path string) (*localState, error) {
	db, err := database.NewSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	durable, err := storage.NewSQLite(db.DB, durableNamespace)
	if err != nil {
		db.Close()
		return nil, err
	}
	ephemeral, err := storage.NewSQLite(db.DB, ephemeralNamespace)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &localState{db: db, durable: durable, ephemeral: ephemeral}, nil
}

func (s *localState) Close() { s.db.Close() }

func newResetCmd() *cobra.Command {
	var sessionOnly bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget the stored visitor and session",
		Long: `Clears the tracker's local state. With --session only the current
session is dropped, as when a browser tab closes; the visitor id and
last-session history are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadTracker()
			st, err := openState(cfg.StateDB)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.ephemeral.Clear(); err != nil {
				return err
			}
			if !sessionOnly {
				if err := st.durable.Clear(); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared tracker state in %s\n", cfg.StateDB)
			return nil
		},
	}

	cmd.Flags().BoolVar(&sessionOnly, "session", false, "Only end the current session")

	return cmd
}
