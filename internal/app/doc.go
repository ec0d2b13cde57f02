// Package app wires the loaded dataset graph, the execution policy, and the
// bound connectors into a runnable application, and drives one privacy
// request through the engine per invocation.
package app
