package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/burnet/burnet/pkg/errdefs"
	"github.com/burnet/burnet/pkg/objectstore"
	"github.com/burnet/burnet/pkg/tasks"
	"github.com/burnet/burnet/pkg/telemetry"
)

func newStoreCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Read and write object store records",
		Long: `Read and write records in the object store.

A record is a JSON object identified by a type (a namespace such as
"templates") and an ident unique within that type.`,
	}

	cmd.AddCommand(newStorePutCommand(opts))
	cmd.AddCommand(newStoreGetCommand(opts))
	cmd.AddCommand(newStoreListCommand(opts))
	cmd.AddCommand(newStoreDeleteCommand(opts))
	cmd.AddCommand(newStoreImportCommand(opts))
	cmd.AddCommand(newStoreExportCommand(opts))
	cmd.AddCommand(newStoreCheckCommand(opts))

	return cmd
}

func newStorePutCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "put <type> <ident> <json>",
		Short:   "Store a record, replacing any existing value",
		Example: `  burnet store put templates fedora '{"memory": 1024, "cpus": 2}'`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, ident := args[0], args[1]

			value, err := objectstore.DecodeValue([]byte(args[2]))
			if err != nil {
				return errdefs.Invalid("value is not a JSON object: %v", err)
			}

			ctx := cmd.Context()
			return opts.withStore(ctx, func(store *objectstore.Store, _ *telemetry.Telemetry) error {
				err := store.Update(ctx, func(s *objectstore.Session) error {
					return s.Store(ctx, typ, ident, value)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s/%s\n", typ, ident)
				return nil
			})
		},
	}
}

func newStoreGetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <ident>",
		Short: "Print a record as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withStore(ctx, func(store *objectstore.Store, _ *telemetry.Telemetry) error {
				var value objectstore.Value
				err := store.View(ctx, func(s *objectstore.Session) error {
					var err error
					value, err = s.Get(ctx, args[0], args[1])
					return err
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), value)
			})
		},
	}
}

func newStoreListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <type>",
		Short: "List the idents stored under a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withStore(ctx, func(store *objectstore.Store, _ *telemetry.Telemetry) error {
				var idents []string
				err := store.View(ctx, func(s *objectstore.Session) error {
					var err error
					idents, err = s.GetList(ctx, args[0])
					return err
				})
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), idents)
				}
				for _, ident := range idents {
					fmt.Fprintln(cmd.OutOrStdout(), ident)
				}
				return nil
			})
		},
	}
}

func newStoreDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <ident>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withStore(ctx, func(store *objectstore.Store, _ *telemetry.Telemetry) error {
				err := store.Update(ctx, func(s *objectstore.Session) error {
					return s.Delete(ctx, args[0], args[1])
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}

// importParams is the parameter bundle of an import task.
type importParams struct {
	store   *objectstore.Store
	typ     string
	records map[string]objectstore.Value
}

// importRecords is the body of an import task. All records are written in a
// single session, so a failure leaves the store unchanged.
func importRecords(ctx context.Context, report tasks.ReportFunc, params any) {
	p := params.(importParams)

	idents := make([]string, 0, len(p.records))
	for ident := range p.records {
		idents = append(idents, ident)
	}
	sort.Strings(idents)

	err := p.store.Update(ctx, func(s *objectstore.Session) error {
		for _, ident := range idents {
			if err := s.Store(ctx, p.typ, ident, p.records[ident]); err != nil {
				return err
			}
			telemetry.FromContext(ctx).WithRecord(p.typ, ident).Debug("record imported")
		}
		return nil
	})
	if err != nil {
		report(err.Error(), false)
		return
	}

	report(fmt.Sprintf("Imported %d records into %s", len(idents), p.typ), true)
}

// parseImportFile decodes a JSON object whose members are the records to
// import, keyed by ident.
func parseImportFile(file string, data []byte) (map[string]objectstore.Value, error) {
	all, err := objectstore.DecodeValue(data)
	if err != nil {
		return nil, errdefs.Invalid("%s must hold a JSON object of JSON objects: %v", file, err)
	}

	records := make(map[string]objectstore.Value, len(all))
	for ident, v := range all {
		record, ok := v.(map[string]any)
		if !ok {
			return nil, errdefs.Invalid("%s: record %q is not a JSON object", file, ident)
		}
		records[ident] = record
	}
	return records, nil
}

func newStoreImportCommand(opts *globalOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "import <type> <file.json>",
		Short: "Import records from a JSON file in a background task",
		Long: `Import records from a JSON file.

The file holds one JSON object whose keys are idents and whose values are the
records to store under <type>. The import runs as a task; the command waits
for it and prints its outcome.`,
		Example: `  burnet store import templates templates.json`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, file := args[0], args[1]

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}

			records, err := parseImportFile(file, data)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			return opts.withStore(ctx, func(store *objectstore.Store, tel *telemetry.Telemetry) error {
				manager := tasks.NewManager(tasks.WithTelemetry(tel))
				taskCtx := tel.Logger.WithContext(ctx)

				id := manager.AddTask(taskCtx, typ, importRecords, importParams{
					store:   store,
					typ:     typ,
					records: records,
				})
				log.Debug().Int64("task_id", id).Str("type", typ).Msg("Import task submitted")

				pollCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				rec, err := tasks.Poll(pollCtx, manager, id, 50*time.Millisecond)
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Task %d %s: %s\n", rec.ID, rec.Status, rec.Message)
				}

				if rec.Status == tasks.StatusFailed {
					return fmt.Errorf("import task %d failed: %s", rec.ID, rec.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the import task")

	return cmd
}

func newStoreExportCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <type>",
		Short: "Print every record of a type as one JSON object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := args[0]
			ctx := cmd.Context()

			return opts.withStore(ctx, func(store *objectstore.Store, _ *telemetry.Telemetry) error {
				records := map[string]objectstore.Value{}
				err := store.View(ctx, func(s *objectstore.Session) error {
					idents, err := s.GetList(ctx, typ)
					if err != nil {
						return err
					}
					for _, ident := range idents {
						value, err := s.Get(ctx, typ, ident)
						if err != nil {
							return err
						}
						records[ident] = value
					}
					return nil
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), records)
			})
		},
	}
}

func newStoreCheckCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the object store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withStore(ctx, func(store *objectstore.Store, _ *telemetry.Telemetry) error {
				if err := store.HealthCheck(ctx); err != nil {
					return err
				}

				stats := store.Stats()
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"path":    store.Path(),
						"pool":    stats,
						"healthy": true,
					})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Store:       %s\n", store.Path())
				fmt.Fprintf(out, "Status:      healthy\n")
				fmt.Fprintf(out, "Connections: %d created, %d in use, capacity %d\n",
					stats.Created, stats.InUse, stats.Capacity)
				return nil
			})
		},
	}
}
