// Package scan walks a folder subtree and hands every matching object to a
// processor, collecting failures instead of stopping at the first one.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/tendant/simple-storage/pkg/simplestorage"
)

// Scanner walks folders of a storage service.
type Scanner struct {
	svc    simplestorage.Service
	logger *slog.Logger
}

// New creates a new Scanner instance.
func New(svc simplestorage.Service, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{svc: svc, logger: logger}
}

// Filter selects which objects are processed. The zero value matches all.
type Filter struct {
	DocumentsOnly bool
	FoldersOnly   bool
	// Tag requires the object to carry this tag
	Tag string
	// MimePrefix matches documents whose MIME type starts with it
	MimePrefix string
}

func (f Filter) match(obj *simplestorage.StorageObject) bool {
	if f.DocumentsOnly && obj.IsFolder() {
		return false
	}
	if f.FoldersOnly && !obj.IsFolder() {
		return false
	}
	if f.Tag != "" && !slices.Contains(obj.Tags(), f.Tag) {
		return false
	}
	if f.MimePrefix != "" && (obj.IsFolder() || !strings.HasPrefix(obj.MimeType(), f.MimePrefix)) {
		return false
	}
	return true
}

// Options configures the scan operation.
type Options struct {
	// Root is the folder path to walk (default: the root folder)
	Root string

	// Depth limits the walk, 0 for unlimited
	Depth int

	// Filter selects the objects to process
	Filter Filter

	// Processor defines the processing logic (required unless DryRun is true)
	Processor Processor

	// BatchSize controls how often OnProgress is called (default: 100)
	BatchSize int

	// DryRun if true, doesn't process objects, just reports what would be processed
	DryRun bool

	// OnProgress is called after each batch is processed (optional)
	OnProgress func(processed, total int64)
}

// Result contains statistics about the scan operation.
type Result struct {
	// TotalFound is the number of objects under Root
	TotalFound int64

	// TotalProcessed is the number of objects successfully processed
	TotalProcessed int64

	// TotalFailed is the number of objects that failed processing
	TotalFailed int64

	// TotalSkipped is the number of objects the filter rejected
	TotalSkipped int64

	// FailedKeys contains the keys of objects that failed processing
	FailedKeys []string
}

// Scan lists the subtree under opts.Root in key order and processes every
// object the filter accepts.
func (s *Scanner) Scan(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	if !opts.DryRun && opts.Processor == nil {
		return result, fmt.Errorf("processor is required when DryRun is false")
	}
	if opts.Filter.FoldersOnly && opts.Filter.DocumentsOnly {
		return result, fmt.Errorf("documents-only and folders-only exclude each other")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	root, err := simplestorage.ToKey(opts.Root)
	if err != nil {
		return result, err
	}
	objects, err := s.svc.GetChildren(ctx, root, opts.Depth)
	if err != nil {
		return result, fmt.Errorf("failed to list %s: %w", simplestorage.ToPath(root), err)
	}
	slices.SortFunc(objects, func(a, b *simplestorage.StorageObject) int {
		return strings.Compare(a.Key, b.Key)
	})
	result.TotalFound = int64(len(objects))

	for i, obj := range objects {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch {
		case !opts.Filter.match(obj):
			result.TotalSkipped++
		case opts.DryRun:
			s.logger.Info("dry run, would process", "key", obj.Key, "folder", obj.IsFolder())
			result.TotalProcessed++
		default:
			if err := opts.Processor.Process(ctx, obj); err != nil {
				result.TotalFailed++
				result.FailedKeys = append(result.FailedKeys, obj.Key)
				s.logger.Error("failed to process object", "key", obj.Key, "err", err)
			} else {
				result.TotalProcessed++
			}
		}

		if opts.OnProgress != nil && ((i+1)%opts.BatchSize == 0 || i == len(objects)-1) {
			opts.OnProgress(result.TotalProcessed+result.TotalFailed+result.TotalSkipped, result.TotalFound)
		}
	}

	return result, nil
}

// ForEach is a convenience method that processes every object under root
// with a callback function.
//
// Example:
//
//	scanner.ForEach(ctx, "/invoices", func(ctx context.Context, obj *simplestorage.StorageObject) error {
//	    fmt.Printf("Processing %s\n", obj.Key)
//	    return doSomething(obj)
//	})
func (s *Scanner) ForEach(ctx context.Context, root string, fn func(context.Context, *simplestorage.StorageObject) error) (*Result, error) {
	return s.Scan(ctx, Options{
		Root:      root,
		Processor: ProcessorFunc(fn),
	})
}
