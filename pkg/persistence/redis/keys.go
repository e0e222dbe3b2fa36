package redis

// Redis key naming conventions for drip data.
// All keys are prefixed with "drip:" to avoid collisions.

const keyPrefix = "drip:"

// ── Workflow keys ──

// workflowKey returns the key for a workflow document: drip:workflow:{id}
func workflowKey(id string) string { return keyPrefix + "workflow:" + id }

// workflowIDsKey is the Set tracking all workflow IDs for enumeration.
const workflowIDsKey = keyPrefix + "workflow_ids"

// ── Contact keys ──

// contactKey returns the key for a contact document: drip:contact:{id}
func contactKey(id string) string { return keyPrefix + "contact:" + id }

// contactIDsKey is the Set tracking all contact IDs for enumeration.
const contactIDsKey = keyPrefix + "contact_ids"

// tagKey returns the Set of contact IDs carrying a tag: drip:tag:{tag}
func tagKey(tag string) string { return keyPrefix + "tag:" + tag }

// ── Execution keys ──

// executionKey returns the Hash key for an execution: drip:execution:{id}
func executionKey(id string) string { return keyPrefix + "execution:" + id }

// executionIDsKey is the Set tracking all execution IDs for enumeration.
const executionIDsKey = keyPrefix + "execution_ids"

// resumeIndexKey is the Sorted Set of waiting executions scored by resume time (unix ms).
const resumeIndexKey = keyPrefix + "resume_index"

// activeKey holds the ID of the in-flight execution for a workflow and contact.
func activeKey(workflowID, contactID string) string {
	return keyPrefix + "active:" + workflowID + ":" + contactID
}
