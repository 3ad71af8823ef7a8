// Package blobstorage provides a storage-location agnostic container for binary
// blobs with pluggable physical backends and a relational metadata index.
//
// A Container is scoped to one (StoreType, ContainerID) pair. It writes bytes
// through a Backend (filesystem, S3-compatible object store, ...) and keeps a
// BlobMetadata record per blob in a MetadataRepository (memory, Postgres,
// SQLite). Containers are built once at startup, usually from configuration
// (see the config subpackage), and looked up through a Registry.
//
// # Metadata Consistency
//
// Metadata and physical storage are not transactional with each other. Create
// and update write the bytes first and the metadata second, so a crash between
// the two leaks an orphaned object but never leaves metadata pointing at bytes
// that were never written. Delete attempts both sides independently. Reads
// tolerate a metadata record whose bytes are gone by returning empty content.
package blobstorage
