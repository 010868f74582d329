package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/debugsink"
	"github.com/ajitpratap0/zerowire/pkg/json"
	"github.com/ajitpratap0/zerowire/pkg/schema"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

func newDebugCommand() *cobra.Command {
	debugCmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect debug mirror files",
	}

	var schemaFrom string
	dump := &cobra.Command{
		Use:   "dump FILE",
		Short: "Print the contents of a raw (.arrows) or encoded (.pb*) debug file",
		Long: `Dump prints one JSON line per row of a raw mirror file, or one line per record
of an encoded mirror file. Raw rows whose values did not fit their column type
are followed by a note on stderr naming those values. Encoded records are decoded to text when --schema-from
names an Arrow IPC file with the schema they were written with.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if filepath.Ext(path) == debugsink.RawExt {
				return dumpRaw(cmd, path)
			}
			if strings.Contains(filepath.Base(path), debugsink.EncodedExt) {
				return dumpEncoded(cmd, path, schemaFrom)
			}
			return fmt.Errorf("unrecognised debug file %s", path)
		},
	}
	dump.Flags().StringVar(&schemaFrom, "schema-from", "", "Arrow IPC file whose schema decodes encoded records")
	debugCmd.AddCommand(dump)
	return debugCmd
}

func dumpRaw(cmd *cobra.Command, path string) error {
	recs, err := debugsink.ReadRaw(path, memory.DefaultAllocator)
	if err != nil {
		return err
	}
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	enc := json.NewLinesEncoder(cmd.OutOrStdout())
	for _, rec := range recs {
		b, err := batch.FromRecord(rec)
		if err != nil {
			return err
		}
		for i, row := range b.Rows {
			line := enc.Count()
			if err := enc.Encode(row); err != nil {
				return err
			}
			if cells, ok := rec.Mismatched[i]; ok {
				data, err := json.Marshal(cells)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "row %d: mismatched values %s\n", line, data)
			}
		}
	}
	return nil
}

func dumpEncoded(cmd *cobra.Command, path, schemaFrom string) error {
	records, err := debugsink.ReadEncoded(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	var ws *schema.WireSchema
	if schemaFrom != "" {
		if ws, err = wireSchemaOf(schemaFrom, schema.MapperConfig{}); err != nil {
			return err
		}
	}

	for i, data := range records {
		if ws == nil {
			fmt.Fprintf(out, "record %d: %d bytes\n", i, len(data))
			continue
		}
		msg := dynamicpb.NewMessage(ws.Message)
		if err := proto.Unmarshal(data, msg); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		fmt.Fprintf(out, "record %d: %s\n", i, prototext.MarshalOptions{}.Format(msg))
	}
	return nil
}
