package transition

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// Key identifies one user facing transition choice: taking an action of a workflow and ending up in a
// destination status. Issues on different workflows, or whose action loops back to different
// statuses, never share a Key.
type Key struct {
	Workflow          string
	ActionId          int
	DestinationStatus string
}

var keyEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// Encode renders k as "workflow_actionId_destinationStatus". Underscores and percent signs in the
// workflow name and status are percent-encoded, so the three parts can always be told apart.
func (k Key) Encode() string {
	return fmt.Sprintf("%s_%d_%s", keyEscaper.Replace(k.Workflow), k.ActionId, keyEscaper.Replace(k.DestinationStatus))
}

func (k Key) String() string {
	return k.Encode()
}

// Decode parses a key produced by Encode.
func Decode(encoded string) (Key, error) {
	parts := strings.Split(encoded, "_")
	if len(parts) != 3 {
		return Key{}, invalidKey(encoded)
	}
	workflow, err := url.PathUnescape(parts[0])
	if err != nil || workflow == "" {
		return Key{}, invalidKey(encoded)
	}
	actionId, err := strconv.Atoi(parts[1])
	if err != nil {
		return Key{}, invalidKey(encoded)
	}
	status, err := url.PathUnescape(parts[2])
	if err != nil || status == "" {
		return Key{}, invalidKey(encoded)
	}
	return Key{
		Workflow:          workflow,
		ActionId:          actionId,
		DestinationStatus: status,
	}, nil
}

func invalidKey(encoded string) error {
	return &bulkerrors.ErrInvalidArgument{
		Name:    "transitionKey",
		Value:   encoded,
		Message: "expected workflow_actionId_destinationStatus",
	}
}
