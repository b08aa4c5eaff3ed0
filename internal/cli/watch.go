package cli

import (
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-vault/internal/app"
	"github.com/rovshanmuradov/solana-vault/internal/eventlistener"
	"github.com/rovshanmuradov/solana-vault/internal/events"
	"github.com/rovshanmuradov/solana-vault/internal/vault"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		programID string
		vaultID   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream vault events from program logs",
		Long: `Subscribe to logs mentioning the vault program over the websocket API and
print every deposit and withdraw as it is confirmed. Events are appended to
journal_path when it is configured. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			program, err := resolveProgramID(cfg.ProgramID, programID)
			if err != nil {
				return err
			}
			url := cfg.WebsocketURL()
			if url == "" {
				return errors.New("websocket endpoint required: set ws_url or rpc_list")
			}

			log := newLogger(cmd, cfg)
			defer log.Close()
			ctx, cancel := app.NotifyContext(cmd.Context(), log.Logger)
			defer cancel()

			var sink vault.EventSink
			if cfg.JournalPath != "" {
				journal, err := events.OpenJournal(cfg.JournalPath, log.Logger)
				if err != nil {
					return err
				}
				defer journal.Close()
				sink = journal
			}

			listener, err := eventlistener.New(ctx, eventlistener.Config{
				URL:       url,
				ProgramID: program,
				Vault:     vault.Address(vaultID),
			}, log.Logger)
			if err != nil {
				return err
			}
			defer listener.Close()

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			var mu sync.Mutex
			err = listener.Subscribe(ctx, func(n eventlistener.Notification) {
				mu.Lock()
				defer mu.Unlock()
				for _, e := range n.Events {
					if sink != nil {
						if err := sink.Emit(ctx, e); err != nil {
							log.Warn("Journal write failed", zap.Error(err))
						}
					}
				}
				_ = out.Emit(n, nil, func(w io.Writer) {
					for _, e := range n.Events {
						line(w, "%s slot=%d %s", n.Signature, n.Slot, strings.Join(events.JournalRecord(e), " "))
					}
				})
			})
			if err != nil {
				return err
			}

			log.Info("Watching vault program", zap.String("program", program.String()), zap.String("url", url))
			<-listener.Done()
			if ctx.Err() != nil {
				return nil
			}
			return errors.New("websocket subscription ended")
		},
	}
	cmd.Flags().StringVarP(&programID, "program", "p", "", "vault program id (defaults to program_id from config)")
	cmd.Flags().StringVar(&vaultID, "vault", "", "asset mint to label decoded events with")
	return cmd
}
