// Package tools defines the Tool interface for the agent.
// Local tools are federated with the tools of external servers by the catalog package.
package tools
