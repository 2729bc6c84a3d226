// Package sandbox provides the isolated execution surface the agent works
// against. A Surface exposes a fixed catalogue of named tools (file I/O,
// directory listing, git operations, shell exec) with JSON-schema-declared
// parameters and a uniform result envelope, so the model never gets raw
// access beyond the declared tool set.
//
// Two interchangeable backends satisfy the Workspace contract:
//
//   - LocalWorkspace: a subprocess-backed working directory on the host.
//   - ContainerWorkspace: a Docker container with commands run via exec.
//
// The orchestrator depends only on the Sandbox interface and is agnostic
// to which backend is bound into a session.
//
// Every path-accepting tool resolves its argument against the sandbox root
// and rejects anything that escapes it or touches a denylisted pattern
// (.git internals, .env files, credential stores, lockfiles). Expected
// domain failures (missing file, git conflict) are reported through the
// ToolResult envelope, never as Go errors; CallTool only returns an error
// for programmer mistakes such as an unknown tool name.
package sandbox
