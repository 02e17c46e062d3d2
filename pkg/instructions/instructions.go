// Package instructions registers the built-in node types.
package instructions

import (
	"net/http"

	"github.com/dukex/flowgate/pkg/instructions/condition"
	"github.com/dukex/flowgate/pkg/instructions/end"
	"github.com/dukex/flowgate/pkg/instructions/log"
	"github.com/dukex/flowgate/pkg/instructions/manual"
	"github.com/dukex/flowgate/pkg/instructions/message"
	"github.com/dukex/flowgate/pkg/instructions/request"
	"github.com/dukex/flowgate/pkg/instructions/subflow"
	"github.com/dukex/flowgate/pkg/instructions/transform"
	"github.com/dukex/flowgate/pkg/protocol"
)

type Registrar interface {
	RegisterInstruction(name string, instruction protocol.Instruction)
}

// RegisterDefaults registers every built-in instruction. client is used by the request
// instruction and may be nil.
func RegisterDefaults(r Registrar, client *http.Client) {
	r.RegisterInstruction(subflow.Type, subflow.New())
	r.RegisterInstruction(end.Type, end.New())
	r.RegisterInstruction(manual.Type, manual.New())
	r.RegisterInstruction(message.Type, message.New())
	r.RegisterInstruction(condition.Type, condition.New())
	r.RegisterInstruction(transform.Type, transform.New())
	r.RegisterInstruction(log.Type, log.New())
	r.RegisterInstruction(request.Type, request.New(client))
}
