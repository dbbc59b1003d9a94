package nodes

import (
	"context"
	"errors"
	"time"

	"eino_session_agent/internal/classifier"
	"eino_session_agent/pkg"
	"eino_session_agent/src/logger"
)

// Node names used in the workflow graph
const (
	NodeSessionStart      = "session_start"
	NodeClassifier        = "question_classifier"
	NodeDefaultResponder  = "default_responder"
	NodeConversationAgent = "conversation_agent"
)

// AgentNodeName returns the node name serving a specialized category
func AgentNodeName(category pkg.Category) string {
	return string(category) + "_agent"
}

// Node is one processing stage of the workflow.
// Execute receives the state owned by the current execution and returns it updated.
type Node interface {
	Execute(ctx context.Context, state *pkg.ConversationState) (*pkg.ConversationState, error)
	GetName() string
}

var errNilState = errors.New("workflow state is nil")

// StartNode initializes a fresh session state and refreshes activity on every execution
type StartNode struct {
	now func() time.Time
}

func NewStartNode(now func() time.Time) *StartNode {
	if now == nil {
		now = time.Now
	}
	return &StartNode{now: now}
}

func (n *StartNode) GetName() string { return NodeSessionStart }

func (n *StartNode) Execute(ctx context.Context, state *pkg.ConversationState) (*pkg.ConversationState, error) {
	if state == nil {
		return nil, errNilState
	}
	log := logger.Ctx(ctx)
	now := n.now()

	if !state.Initialized() {
		state.CreatedAt = now
		if state.Conversation == nil {
			state.Conversation = []pkg.ConversationTurn{}
		}
		log.Info().Msg("Initialized new session state")
	} else {
		log.Debug().Int("messages", len(state.Conversation)).Msg("Retrieved existing session state")
	}

	state.LastActivity = now
	return state, nil
}

// ClassifyNode assigns the routing category of the current query
type ClassifyNode struct {
	classifier *classifier.Classifier
}

func NewClassifyNode(c *classifier.Classifier) *ClassifyNode {
	return &ClassifyNode{classifier: c}
}

func (n *ClassifyNode) GetName() string { return NodeClassifier }

func (n *ClassifyNode) Execute(ctx context.Context, state *pkg.ConversationState) (*pkg.ConversationState, error) {
	if state == nil {
		return nil, errNilState
	}
	state.Category = n.classifier.Classify(ctx, state.CurrentQuery)
	logger.Ctx(ctx).Info().Str("category", string(state.Category)).Msg("Question classified")
	return state, nil
}

// StrategyNode runs a response strategy and records the exchange in the state
type StrategyNode struct {
	name     string
	strategy Strategy
	now      func() time.Time
}

func NewStrategyNode(name string, strategy Strategy, now func() time.Time) *StrategyNode {
	if now == nil {
		now = time.Now
	}
	return &StrategyNode{name: name, strategy: strategy, now: now}
}

func (n *StrategyNode) GetName() string { return n.name }

func (n *StrategyNode) Execute(ctx context.Context, state *pkg.ConversationState) (*pkg.ConversationState, error) {
	if state == nil {
		return nil, errNilState
	}

	logger.Ctx(ctx).Info().
		Str("node", n.name).
		Int("history", len(state.Conversation)).
		Msg("Processing query")

	reply, history, err := n.strategy.Respond(ctx, state.CurrentQuery, state.Conversation)
	if err != nil {
		return nil, err
	}

	state.Response = reply
	state.Conversation = history
	state.LastActivity = n.now()
	return state, nil
}

// Router picks the strategy node for a classified state
type Router struct {
	routes map[pkg.Category]string
}

// NewRouter maps each category to its agent node; anything else goes to the default responder
func NewRouter(categories []pkg.Category) *Router {
	routes := make(map[pkg.Category]string, len(categories))
	for _, category := range categories {
		routes[category] = AgentNodeName(category)
	}
	return &Router{routes: routes}
}

func (r *Router) Route(_ context.Context, state *pkg.ConversationState) (string, error) {
	if state == nil {
		return "", errNilState
	}
	if node, ok := r.routes[state.Category]; ok {
		return node, nil
	}
	return NodeDefaultResponder, nil
}

// Targets returns every node Route may choose
func (r *Router) Targets() map[string]bool {
	targets := map[string]bool{NodeDefaultResponder: true}
	for _, node := range r.routes {
		targets[node] = true
	}
	return targets
}
