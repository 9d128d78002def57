// File: internal/blueprint/types.go
package blueprint

import "github.com/tara-ai/copilot-cli/internal/protocol"

// Element and Snapshot are the wire shapes; the scanner produces them
// directly so nothing gets re-mapped on the way out.
type (
	Element  = protocol.Element
	Snapshot = protocol.DOMSnapshot
)
