package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/scan"
)

// NewMkdirCommand creates the mkdir command
func NewMkdirCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder and any missing parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, err := s.service().EnsureFolder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), simplestorage.ToPath(folder.Key))
			return nil
		},
	}
}

// NewPutCommand creates the put command
func NewPutCommand(s *session) *cobra.Command {
	var contentType string
	var title string
	var tags []string

	cmd := &cobra.Command{
		Use:   "put <local-file> <path>",
		Short: "Store a local file as a document",
		Long: `Store a local file as the document at path. Missing parent folders are
created and an existing document is replaced.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := s.service()

			key, err := simplestorage.ToKey(args[1])
			if err != nil {
				return err
			}
			if simplestorage.IsRoot(args[1]) {
				return fmt.Errorf("a document path is required")
			}

			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(args[0]))
			}

			parent := simplestorage.ParentKey(key)
			if _, err := svc.EnsureFolder(ctx, simplestorage.ToPath(parent)); err != nil {
				return err
			}

			props := simplestorage.TitledProperties(title, "")
			props[simplestorage.PropName] = path.Base(key)
			doc, err := svc.RestoreDocument(ctx, file, contentType, props, simplestorage.ToPath(parent))
			if err != nil {
				return err
			}
			for _, tag := range tags {
				if doc, err = svc.AddTag(ctx, doc, tag); err != nil {
					return err
				}
			}

			s.logger.Info("stored document", "key", doc.Key, "size", doc.ContentLength())
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", simplestorage.ToPath(doc.Key), doc.ContentLength())
			return nil
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type (default: guessed from the file extension)")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag to add, repeatable")

	return cmd
}

// NewGetCommand creates the get command
func NewGetCommand(s *session) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Write the content of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := simplestorage.ToKey(args[0])
			if err != nil {
				return err
			}
			reader, err := s.service().GetInputStream(cmd.Context(), key)
			if err != nil {
				return err
			}
			defer reader.Close()

			out := cmd.OutOrStdout()
			if outputPath != "" {
				file, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}

			n, err := io.Copy(out, reader)
			if err != nil {
				return err
			}
			s.logger.Debug("read document", "key", key, "bytes", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: stdout)")

	return cmd
}

// NewListCommand creates the ls command
func NewListCommand(s *session) *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List the children of a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := "/"
			if len(args) == 1 {
				folder = args[0]
			}
			key, err := simplestorage.ToKey(folder)
			if err != nil {
				return err
			}

			children, err := s.service().GetChildren(cmd.Context(), key, depth)
			if err != nil {
				return err
			}
			slices.SortFunc(children, func(a, b *simplestorage.StorageObject) int {
				return strings.Compare(a.Key, b.Key)
			})

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, child := range children {
				kind := "-"
				if child.IsFolder() {
					kind = "d"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", kind, child.ContentLength(), simplestorage.ToPath(child.Key))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", 1, "levels to descend, 0 for unlimited")

	return cmd
}

// NewStatCommand creates the stat command
func NewStatCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show the properties of a folder or document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := simplestorage.ToKey(args[0])
			if err != nil {
				return err
			}
			obj, err := s.service().GetObject(cmd.Context(), key)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(obj.Properties))
			for name := range obj.Properties {
				names = append(names, name)
			}
			slices.Sort(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", name, formatValue(obj.Properties[name]))
			}
			return w.Flush()
		},
	}
}

// NewRemoveCommand creates the rm command
func NewRemoveCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a document or a folder with its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := simplestorage.ToKey(args[0])
			if err != nil {
				return err
			}
			deleted, err := s.service().Delete(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("%s: not found", args[0])
			}
			s.logger.Info("deleted", "key", key)
			return nil
		},
	}
}

// NewMoveCommand creates the mv command
func NewMoveCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path> <new-name>",
		Short: "Rename a document or folder within its parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := s.service()

			key, err := simplestorage.ToKey(args[0])
			if err != nil {
				return err
			}
			obj, err := svc.GetObject(ctx, key)
			if err != nil {
				return err
			}
			target, err := simplestorage.Child(simplestorage.ParentKey(key), args[1])
			if err != nil {
				return err
			}
			renamed, err := svc.Rename(ctx, obj, simplestorage.ToPath(target))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), simplestorage.ToPath(renamed.Key))
			return nil
		},
	}
}

// NewCopyCommand creates the cp command
func NewCopyCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "cp <source> <target-folder>",
		Short: "Copy a document or folder into another folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := s.service()

			sourceKey, err := simplestorage.ToKey(args[0])
			if err != nil {
				return err
			}
			source, err := svc.GetObject(ctx, sourceKey)
			if err != nil {
				return err
			}
			target, err := svc.GetObjectByPath(ctx, args[1], true)
			if err != nil {
				return err
			}
			if target.IsPlaceholder() {
				return fmt.Errorf("%s: folder not found", args[1])
			}
			if err := svc.CopyNode(ctx, source, target); err != nil {
				return err
			}
			copied, err := simplestorage.Child(target.Key, source.Name())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), simplestorage.ToPath(copied))
			return nil
		},
	}
}

// NewTagCommand creates the tag command
func NewTagCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <path> <tag>",
		Short: "Add a tag to a folder or document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := s.service()

			key, err := simplestorage.ToKey(args[0])
			if err != nil {
				return err
			}
			obj, err := svc.GetObject(ctx, key)
			if err != nil {
				return err
			}
			if svc.HasTag(obj, args[1]) {
				return nil
			}
			if _, err := svc.AddTag(ctx, obj, args[1]); err != nil {
				return err
			}
			return nil
		},
	}
}

func formatValue(v any) string {
	switch value := v.(type) {
	case time.Time:
		return value.Format(time.RFC3339)
	case []string:
		return fmt.Sprintf("%q", value)
	default:
		return fmt.Sprint(value)
	}
}

// NewScanCommand creates the scan command
func NewScanCommand(s *session) *cobra.Command {
	var opts scan.Options
	var addTag string

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Walk a folder and print or tag matching objects",
		Long: `Walk the subtree under path in key order. Matching objects are printed,
or tagged when --add-tag is given. Failures are reported and the walk goes on.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Root = "/"
			if len(args) == 1 {
				opts.Root = args[0]
			}

			out := cmd.OutOrStdout()
			if addTag != "" {
				opts.Processor = scan.TagProcessor(s.service(), addTag)
			} else {
				opts.Processor = scan.ProcessorFunc(func(ctx context.Context, obj *simplestorage.StorageObject) error {
					_, err := fmt.Fprintln(out, simplestorage.ToPath(obj.Key))
					return err
				})
			}

			result, err := scan.New(s.service(), s.logger).Scan(cmd.Context(), opts)
			if err != nil {
				return err
			}
			s.logger.Info("scan finished",
				"found", result.TotalFound,
				"processed", result.TotalProcessed,
				"skipped", result.TotalSkipped,
				"failed", result.TotalFailed,
			)
			if result.TotalFailed > 0 {
				return fmt.Errorf("%d objects failed: %v", result.TotalFailed, result.FailedKeys)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Depth, "depth", "d", 0, "levels to descend, 0 for unlimited")
	cmd.Flags().BoolVar(&opts.Filter.DocumentsOnly, "documents-only", false, "only documents")
	cmd.Flags().BoolVar(&opts.Filter.FoldersOnly, "folders-only", false, "only folders")
	cmd.Flags().StringVar(&opts.Filter.Tag, "with-tag", "", "only objects carrying this tag")
	cmd.Flags().StringVar(&opts.Filter.MimePrefix, "mime-prefix", "", "only documents whose MIME type starts with this")
	cmd.Flags().StringVar(&addTag, "add-tag", "", "tag every matching object")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report matches without processing them")

	return cmd
}
