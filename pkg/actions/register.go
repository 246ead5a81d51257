package actions

import (
	"fmt"

	"github.com/switchboard-io/switchboard/pkg/clients"
	"github.com/switchboard-io/switchboard/pkg/metrics"
)

// Action type names as they appear in rule definitions.
const (
	TypeLLMInvoke         = "llm.invoke"
	TypeEmbeddingCreate   = "embedding.create"
	TypeEmbeddingSearch   = "embedding.search"
	TypeMessageSend       = "message.send"
	TypeStateTransition   = "state.transition"
	TypeContextUpdate     = "context.update"
	TypeWait              = "wait"
	TypeParallel          = "parallel"
	TypeCondition         = "condition"
	TypeLoop              = "loop"
	TypeHandoffCreate     = "handoff.create"
	TypeHandoffAssign     = "handoff.assign"
	TypeHandoffResolve    = "handoff.resolve"
	TypeAssistantRoute    = "assistant.route"
	TypeEmbeddingRoute    = "embedding.route"
	TypeIntegrationInvoke = "integration.invoke"
	TypeWorkspaceCreate   = "workspace.create"
	TypeWorkspaceDestroy  = "workspace.destroy"
)

// Deps are the collaborators the standard handler set needs.
type Deps struct {
	Messaging    MessageSender
	Integrations *clients.Integrations
	Profiles     ProfileSource
	Embeddings   *EmbeddingService
	Router       AssistantRouter
}

// NewStandardDispatcher builds a sealed dispatcher with the complete
// handler set. A registration error here is a programming error and the
// caller refuses to start.
func NewStandardDispatcher(deps Deps, m *metrics.Set) (*Dispatcher, error) {
	d := NewDispatcher(m)

	handlers := map[string]Handler{
		TypeLLMInvoke:         NewLLMInvokeHandler(deps.Integrations, deps.Profiles),
		TypeEmbeddingCreate:   NewEmbeddingCreateHandler(deps.Embeddings),
		TypeEmbeddingSearch:   NewEmbeddingSearchHandler(deps.Embeddings),
		TypeMessageSend:       NewMessageSendHandler(deps.Messaging),
		TypeStateTransition:   NewStateTransitionHandler(),
		TypeContextUpdate:     NewContextUpdateHandler(),
		TypeWait:              NewWaitHandler(),
		TypeParallel:          NewParallelHandler(d),
		TypeCondition:         NewConditionHandler(d),
		TypeLoop:              NewLoopHandler(d),
		TypeHandoffCreate:     NewHandoffCreateHandler(),
		TypeHandoffAssign:     NewHandoffAssignHandler(),
		TypeHandoffResolve:    NewHandoffResolveHandler(),
		TypeAssistantRoute:    NewAssistantRouteHandler(deps.Router),
		TypeEmbeddingRoute:    NewEmbeddingRouteHandler(deps.Router),
		TypeIntegrationInvoke: NewIntegrationInvokeHandler(deps.Integrations),
		TypeWorkspaceCreate:   NewWorkspaceCreateHandler(),
		TypeWorkspaceDestroy:  NewWorkspaceDestroyHandler(),
	}
	for actionType, handler := range handlers {
		if err := d.Register(actionType, handler); err != nil {
			return nil, fmt.Errorf("register action handlers: %w", err)
		}
	}

	d.Seal()
	return d, nil
}
