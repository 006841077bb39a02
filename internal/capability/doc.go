// Package capability implements the file-access capability protocol:
// a fixed set of named operations (list, read, save, index, search)
// exposed over newline-delimited JSON-RPC 2.0.
//
// The server side runs inside the docket-files subprocess with its
// side effects confined to the sandbox directory and the chunk index.
// The client side lives in the agent process and dispatches tool calls
// across the process boundary. Operation-level failures travel as
// textual results flagged isError, never as transport errors, so the
// agent loop always has a well-formed tool-result to continue with.
package capability
