package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flightline/flightline/internal/config"
	"github.com/flightline/flightline/internal/plane"
)

var (
	storeCmd = &cobra.Command{
		Use:   "store",
		Short: "Read and write the shared plane document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	storeInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Create the plane document if it does not exist",
		RunE:  runStoreInit,
	}

	storeGetCmd = &cobra.Command{
		Use:   "get <namespace> <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(2),
		RunE:  runStoreGet,
	}

	storeSetCmd = &cobra.Command{
		Use:   "set <namespace> <key> <value>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(3),
		RunE:  runStoreSet,
	}

	storeAppendCmd = &cobra.Command{
		Use:   "append <namespace> <key> <value>",
		Short: "Append a value to the sequence under a key",
		Args:  cobra.ExactArgs(3),
		RunE:  runStoreAppend,
	}

	storeListCmd = &cobra.Command{
		Use:   "list <namespace> [prefix]",
		Short: "List keys in a namespace",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runStoreList,
	}

	storeCompactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Trim the document journal to its most recent entries",
		RunE:  runStoreCompact,
	}
)

func init() {
	storeSetCmd.Flags().String("meta", "", "Optional JSON object recorded with the journal entry")
	storeAppendCmd.Flags().String("meta", "", "Optional JSON object recorded with the journal entry")
	storeCompactCmd.Flags().Int("max", 0, "Journal entries to keep (default from config)")
	storeCmd.AddCommand(storeInitCmd, storeGetCmd, storeSetCmd, storeAppendCmd, storeListCmd, storeCompactCmd)
	rootCmd.AddCommand(storeCmd)
}

func openStore() (*plane.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return plane.NewStore(cfg.Store.Path), cfg, nil
}

func metaFlag(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("meta")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("--meta must be a JSON object: %w", err)
	}
	return meta, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStoreInit(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	created, err := store.Init()
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", store.Path())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Already exists %s\n", store.Path())
	}
	return nil
}

func runStoreGet(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	value, err := store.Get(args[0], args[1])
	if err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("no value under %s/%s", args[0], args[1])
	}
	return printJSON(cmd.OutOrStdout(), value)
}

func runStoreSet(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	meta, err := metaFlag(cmd)
	if err != nil {
		return err
	}
	stored, err := store.Set(args[0], args[1], args[2], meta)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), stored)
}

func runStoreAppend(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	meta, err := metaFlag(cmd)
	if err != nil {
		return err
	}
	record, err := store.Append(args[0], args[1], args[2], meta)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), record)
}

func runStoreList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	prefix := ""
	if len(args) > 1 {
		prefix = args[1]
	}
	keys, err := store.List(args[0], prefix)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		fmt.Fprintln(out, "No keys.")
		return nil
	}
	for _, k := range keys {
		fmt.Fprintln(out, k)
	}
	return nil
}

func runStoreCompact(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	max, _ := cmd.Flags().GetInt("max")
	if max <= 0 {
		max = cfg.Store.MaxJournalEntries
	}
	dropped, err := store.Compact(max)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dropped %d journal entries\n", dropped)
	return nil
}
