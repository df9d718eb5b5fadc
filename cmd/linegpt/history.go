package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdobrica/linegpt/internal/linegpt/store"
)

type queryFlags struct {
	index      string
	partition  string
	comparison string
	from, to   string
	limit      int
	reverse    bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.index, "index", "conversation", "Index to query: conversation, author or fingerprint.")
	cmd.Flags().StringVar(&f.partition, "key", "", "Partition key (conversation ID, author ID or fingerprint).")
	cmd.Flags().StringVar(&f.comparison, "cmp", "none", "created_at condition: none, eq, lt, le, gt, ge, between, begins_with.")
	cmd.Flags().StringVar(&f.from, "from", "", "created_at operand (lower bound for between, prefix for begins_with).")
	cmd.Flags().StringVar(&f.to, "to", "", "Upper bound for between.")
	cmd.Flags().IntVar(&f.limit, "limit", 20, "Maximum rows; 0 for no limit.")
	cmd.Flags().BoolVar(&f.reverse, "reverse", true, "Newest first.")
	_ = cmd.MarkFlagRequired("key")
}

func (f *queryFlags) query() (store.Query, error) {
	idx, err := parseIndex(f.index)
	if err != nil {
		return store.Query{}, err
	}
	cmp, err := store.ParseComparison(f.comparison)
	if err != nil {
		return store.Query{}, err
	}
	return store.NewQuery(idx, f.partition, cmp, f.from, f.to, f.limit, f.reverse), nil
}

func parseIndex(s string) (store.Index, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conversation", "":
		return store.ByConversation, nil
	case "author":
		return store.ByAuthor, nil
	case "fingerprint":
		return store.ByFingerprint, nil
	}
	return 0, fmt.Errorf("unknown index %q", s)
}

type turnRecord struct {
	ConversationID string `json:"conversationId"`
	AuthorID       string `json:"authorId"`
	Text           string `json:"text"`
	CreatedAt      string `json:"createdAt"`
}

type exchangeRecord struct {
	ConversationID string          `json:"conversationId"`
	AuthorID       string          `json:"authorId"`
	Fingerprint    string          `json:"fingerprint"`
	Request        json.RawMessage `json:"request"`
	Response       json.RawMessage `json:"response"`
	CreatedAt      string          `json:"createdAt"`
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and maintain stored conversation history",
	}
	cmd.AddCommand(newHistoryTurnsCmd(), newHistoryExchangesCmd(), newHistoryPurgeCmd())
	return cmd
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.New(cfg.DatabasePath)
}

func newHistoryTurnsCmd() *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "turns",
		Short: "List inbound messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			turns, err := st.FindTurns(cmd.Context(), q)
			if err != nil {
				return err
			}
			out := make([]any, 0, len(turns))
			for _, t := range turns {
				out = append(out, turnRecord{
					ConversationID: t.ConversationID,
					AuthorID:       t.AuthorID,
					Text:           t.Text,
					CreatedAt:      store.FormatTime(t.CreatedAt),
				})
			}
			return writeLines(cmd.OutOrStdout(), out)
		},
	}
	qf.register(cmd)
	return cmd
}

func newHistoryExchangesCmd() *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "exchanges",
		Short: "List recorded LLM calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			exchanges, err := st.FindExchanges(cmd.Context(), q)
			if err != nil {
				return err
			}
			out := make([]any, 0, len(exchanges))
			for _, e := range exchanges {
				out = append(out, exchangeRecord{
					ConversationID: e.ConversationID,
					AuthorID:       e.AuthorID,
					Fingerprint:    e.Fingerprint,
					Request:        json.RawMessage(e.RequestBody),
					Response:       json.RawMessage(e.ResponseBody),
					CreatedAt:      store.FormatTime(e.CreatedAt),
				})
			}
			return writeLines(cmd.OutOrStdout(), out)
		},
	}
	qf.register(cmd)
	return cmd
}

func newHistoryPurgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete turns and exchanges older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := st.PurgeBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d turns and %d exchanges\n", res.Turns, res.Exchanges)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Age of the oldest row to keep.")
	return cmd
}

// writeLines prints one JSON document per line.
func writeLines(w io.Writer, records []any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
