package simplestorage

import (
	"fmt"
	"time"
)

// Property names understood by every driver.
const (
	PropName             = "cmis:name"
	PropObjectID         = "cmis:objectId"
	PropObjectTypeID     = "cmis:objectTypeId"
	PropBaseTypeID       = "cmis:baseTypeId"
	PropPath             = "cmis:path"
	PropContentLength    = "cmis:contentStreamLength"
	PropMimeType         = "cmis:contentStreamMimeType"
	PropTags             = "cmis:secondaryObjectTypeIds"
	PropLastModification = "cmis:lastModificationDate"
	PropTitle            = "cm:title"
	PropDescription      = "cm:description"
	PropAuthor           = "cm:author"
)

// Base types and well known tags.
const (
	BaseTypeFolder   = "cmis:folder"
	BaseTypeDocument = "cmis:document"
	TagTitled        = "P:cm:titled"
)

// Common MIME types.
const (
	MimeTypeOctetStream = "application/octet-stream"
	MimeTypeText        = "text/plain"
	MimeTypeHTML        = "text/html"
	MimeTypeXML         = "application/xml"
	MimeTypeJSON        = "application/json"
	MimeTypePDF         = "application/pdf"
	MimeTypeP7M         = "application/pkcs7-mime"
	MimeTypeZIP         = "application/zip"
	MimeTypeCSV         = "text/csv"
	MimeTypeXLS         = "application/vnd.ms-excel"
	MimeTypeXLSX        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeTypeDOC         = "application/msword"
	MimeTypeDOCX        = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeTypePNG         = "image/png"
	MimeTypeJPEG        = "image/jpeg"
)

// DirectoryContentType marks the zero-length sentinel blob that keeps an
// empty folder visible on a flat store.
const DirectoryContentType = "application/x-directory"

// derivedProps are computed from the key and blob info on read and never
// persisted.
var derivedProps = map[string]struct{}{
	PropName:             {},
	PropObjectID:         {},
	PropBaseTypeID:       {},
	PropPath:             {},
	PropContentLength:    {},
	PropMimeType:         {},
	PropLastModification: {},
}

// IsDerivedProperty reports whether name is computed on read.
func IsDerivedProperty(name string) bool {
	_, ok := derivedProps[name]
	return ok
}

// Properties maps property names to values. A value is a string, int64,
// bool, time.Time or, for PropTags only, a []string.
type Properties map[string]any

// Clone returns a shallow copy with list values duplicated.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// StorageObject is a folder or a document.
type StorageObject struct {
	Key        string
	Path       string
	Properties Properties
}

// Name returns the leaf name of the object.
func (o *StorageObject) Name() string {
	if name := o.String(PropName); name != "" {
		return name
	}
	return leafName(o.Key)
}

// IsFolder reports whether the object is a folder.
func (o *StorageObject) IsFolder() bool {
	return o.String(PropBaseTypeID) == BaseTypeFolder
}

// IsPlaceholder reports whether the object is an unresolved placeholder.
func (o *StorageObject) IsPlaceholder() bool {
	return len(o.Properties) == 0
}

// String returns a property rendered as a string, or "" when absent.
func (o *StorageObject) String(name string) string {
	v, ok := o.Properties[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

// ContentLength returns the stream length of a document.
func (o *StorageObject) ContentLength() int64 {
	if n, ok := o.Properties[PropContentLength].(int64); ok {
		return n
	}
	return 0
}

// MimeType returns the stream MIME type of a document.
func (o *StorageObject) MimeType() string {
	return o.String(PropMimeType)
}

// Tags returns the multi-valued tag list.
func (o *StorageObject) Tags() []string {
	tags, _ := o.Properties[PropTags].([]string)
	return tags
}

// LastModified returns the last modification time, zero when unknown.
func (o *StorageObject) LastModified() time.Time {
	t, _ := o.Properties[PropLastModification].(time.Time)
	return t
}

// StoreType identifies which facade variant serves requests.
type StoreType string

const (
	StoreTypeNative StoreType = "native"
	StoreTypeFlat   StoreType = "flat"
)

// BlobInfo describes a committed blob.
type BlobInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
	UpdatedAt   time.Time
	Metadata    map[string]string
}

// IsSentinel reports whether the blob is a directory sentinel.
func (b *BlobInfo) IsSentinel() bool {
	return b != nil && b.ContentType == DirectoryContentType
}

// PutParams carries the attributes written with a blob.
type PutParams struct {
	ContentType string
	Metadata    map[string]string
}

// ListEntry is one immediate child returned by BlobStore.List. Group entries
// stand for a deeper prefix; Key never carries a trailing separator.
type ListEntry struct {
	Key     string
	IsGroup bool
	Size    int64
}
