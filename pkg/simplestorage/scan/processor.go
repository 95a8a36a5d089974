package scan

import (
	"context"

	"github.com/tendant/simple-storage/pkg/simplestorage"
)

// Processor processes individual objects found by a scan.
// Return error to mark the object as failed; the scan continues with the next one.
type Processor interface {
	Process(ctx context.Context, obj *simplestorage.StorageObject) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(context.Context, *simplestorage.StorageObject) error

func (f ProcessorFunc) Process(ctx context.Context, obj *simplestorage.StorageObject) error {
	return f(ctx, obj)
}

// TagProcessor adds tag to every object it is given
func TagProcessor(svc simplestorage.Service, tag string) Processor {
	return ProcessorFunc(func(ctx context.Context, obj *simplestorage.StorageObject) error {
		if svc.HasTag(obj, tag) {
			return nil
		}
		_, err := svc.AddTag(ctx, obj, tag)
		return err
	})
}
