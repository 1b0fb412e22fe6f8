// Package memory provides an in-memory database implementation.
package memory

import "github.com/hashicorp/go-memdb"

const (
	tblJobs = "jobs"
)

const (
	idxJobID     = "id"
	idxJobStatus = "status"
)

// schema is the schema of the memory database.
var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblJobs: {
			Name: tblJobs,
			Indexes: map[string]*memdb.IndexSchema{
				idxJobID: {
					Name:    idxJobID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				idxJobStatus: {
					Name:    idxJobStatus,
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "Status"},
				},
			},
		},
	},
}
