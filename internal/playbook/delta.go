package playbook

// OpKind identifies which variant of DeltaOperation is populated.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpTag    OpKind = "tag"
	OpRemove OpKind = "remove"
)

// DeltaOperation is a tagged-union mutation proposed by the Curator.
// Exactly the fields relevant to Kind are read by Playbook.Apply.
type DeltaOperation struct {
	Kind OpKind `json:"kind"`

	// Add
	Section string `json:"section,omitempty"`
	Content string `json:"content,omitempty"`

	// Update / Tag / Remove
	BulletID string `json:"bullet_id,omitempty"`

	// Tag
	TagValue Tag `json:"tag,omitempty"`
}

// DeltaBatch is a set of operations applied atomically to a Playbook.
// Reasoning is retained for audit logs only, never shown to the operator
// or fed back to the LLM.
type DeltaBatch struct {
	Reasoning  string           `json:"reasoning"`
	Operations []DeltaOperation `json:"operations"`
}

func Add(section, content string) DeltaOperation {
	return DeltaOperation{Kind: OpAdd, Section: section, Content: content}
}

func Update(bulletID, content string) DeltaOperation {
	return DeltaOperation{Kind: OpUpdate, BulletID: bulletID, Content: content}
}

func TagOp(bulletID string, tag Tag) DeltaOperation {
	return DeltaOperation{Kind: OpTag, BulletID: bulletID, TagValue: tag}
}

func Remove(bulletID string) DeltaOperation {
	return DeltaOperation{Kind: OpRemove, BulletID: bulletID}
}
