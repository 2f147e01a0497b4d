package conversation

import (
	"github.com/capitalize-ai/chat-orchestrator/internal/model"
)

// Linearize returns the root-to-leaf sequence ending at fromID.
//
// The walk follows ParentID pointers and is bounded by len(messages): a chain
// longer than the mapping can only be a cycle, and fails with a
// *DanglingPathError instead of looping. An empty fromID yields an empty path.
func Linearize(messages map[string]*model.Message, fromID string) ([]*model.Message, error) {
	if fromID == "" {
		return nil, nil
	}

	var path []*model.Message
	id := fromID
	for id != "" {
		msg, ok := messages[id]
		if !ok {
			return nil, &DanglingPathError{FromID: fromID, MissingID: id, Steps: len(path)}
		}
		if len(path) >= len(messages) {
			return nil, &DanglingPathError{FromID: fromID, Steps: len(path)}
		}
		path = append(path, msg)
		id = msg.ParentID
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}
