// Package approval gates agent actions on per-domain owner policy.
//
// Policy classifies each domain as auto_approved, requires_approval, or
// blocked; unlisted domains are auto-approved. Entries may be doublestar
// patterns ("*.bank.example"), with literal entries taking precedence.
//
// The interesting path is requires_approval: the coordinator creates a
// pending record, notifies the owner once with approve and deny links, and
// suspends the calling agent until the owner submits a decision. Each
// record settles exactly once; late or duplicate decisions report false.
// An optional timeout denies the request after a fixed wait, and caller
// cancellation abandons the wait without settling the record, so the owner
// can still decide it afterwards.
//
// Example Usage:
//
//	policy := approval.NewPolicy()
//	policy.Set("*.bank.example", types.PermissionRequiresApproval)
//	coord := approval.NewCoordinator(cfg, policy, webhooks, logger)
//
//	decision := coord.RequestApproval(ctx, types.ApprovalRequest{
//	    Agent:  types.AgentIdentity{ID: "agent-1"},
//	    Action: "purchase",
//	    Domain: "api.bank.example",
//	})
package approval
