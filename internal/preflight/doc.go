// Package preflight checks that the environment can support ingestion and
// retrieval before a run starts: disk space and write access under the var
// directory, the local Zotero snapshot, the Qdrant endpoint, and the Ollama
// embedding service when a project needs it.
package preflight
