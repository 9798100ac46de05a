// Package crawler defines the shared domain types, error taxonomy and
// collaborator interfaces of the article harvester: the fetch client, the
// page parsers, the dispatcher and the persistence sinks all speak in terms
// of this package.
package crawler
