package core

import (
	"context"
	"fmt"
	"time"

	"eino_session_agent/internal/classifier"
	"eino_session_agent/internal/config"
	"eino_session_agent/internal/llm"
	"eino_session_agent/internal/metrics"
	"eino_session_agent/internal/nodes"
	"eino_session_agent/pkg"

	"github.com/cloudwego/eino/compose"
)

// Workflow is the compiled conversation graph shared by all sessions.
// Each Invoke owns the state it is given.
type Workflow struct {
	variant  string
	runnable compose.Runnable[*pkg.ConversationState, *pkg.ConversationState]
}

type workflowDeps struct {
	completer llm.Completer
	metrics   *metrics.Recorder
	now       func() time.Time
}

type stateGraph = compose.Graph[*pkg.ConversationState, *pkg.ConversationState]

// buildWorkflow compiles the graph for the configured variant:
//
//	classifying: session_start -> question_classifier -> <category>_agent | default_responder
//	simple:      session_start -> conversation_agent
func buildWorkflow(ctx context.Context, variant string, routing config.RoutingConfig, deps workflowDeps) (*Workflow, error) {
	g := compose.NewGraph[*pkg.ConversationState, *pkg.ConversationState]()

	start := nodes.NewStartNode(deps.now)
	if err := addNode(g, start); err != nil {
		return nil, err
	}
	if err := g.AddEdge(compose.START, start.GetName()); err != nil {
		return nil, err
	}

	var err error
	switch variant {
	case config.VariantSimple:
		err = buildSimple(g, start, deps)
	case config.VariantClassifying, "":
		variant = config.VariantClassifying
		err = buildClassifying(g, start, routing, deps)
	default:
		return nil, fmt.Errorf("%w: unknown workflow variant %q", pkg.ErrConfiguration, variant)
	}
	if err != nil {
		return nil, err
	}

	runnable, err := g.Compile(ctx, compose.WithGraphName("session_agent_"+variant))
	if err != nil {
		return nil, fmt.Errorf("failed to compile workflow: %w", err)
	}

	return &Workflow{variant: variant, runnable: runnable}, nil
}

func buildSimple(g *stateGraph, start nodes.Node, deps workflowDeps) error {
	agent := nodes.NewStrategyNode(nodes.NodeConversationAgent, nodes.NewGeneralStrategy(deps.completer, deps.now), deps.now)
	if err := addNode(g, agent); err != nil {
		return err
	}
	if err := g.AddEdge(start.GetName(), agent.GetName()); err != nil {
		return err
	}
	return g.AddEdge(agent.GetName(), compose.END)
}

func buildClassifying(g *stateGraph, start nodes.Node, routing config.RoutingConfig, deps workflowDeps) error {
	rules := classifier.RulesFromRouting(routing)
	classify := nodes.NewClassifyNode(classifier.New(deps.completer, rules,
		classifier.WithInstruction(routing.ClassifierPrompt),
		classifier.WithMetrics(deps.metrics),
	))

	agents := []nodes.Node{
		nodes.NewStrategyNode(nodes.NodeDefaultResponder, nodes.NewDefaultStrategy(routing.FallbackResponse, deps.now), deps.now),
	}
	categories := make([]pkg.Category, 0, len(routing.Routes))
	for _, route := range routing.Routes {
		category := pkg.Category(route.Name)
		categories = append(categories, category)
		agents = append(agents, nodes.NewStrategyNode(
			nodes.AgentNodeName(category),
			nodes.NewSpecializedStrategy(category, route.Persona, deps.completer, deps.now),
			deps.now,
		))
	}
	router := nodes.NewRouter(categories)

	if err := addNode(g, classify); err != nil {
		return err
	}
	if err := g.AddEdge(start.GetName(), classify.GetName()); err != nil {
		return err
	}

	for _, agent := range agents {
		if err := addNode(g, agent); err != nil {
			return err
		}
		if err := g.AddEdge(agent.GetName(), compose.END); err != nil {
			return err
		}
	}

	return g.AddBranch(classify.GetName(), compose.NewGraphBranch(router.Route, router.Targets()))
}

func addNode(g *stateGraph, node nodes.Node) error {
	if err := g.AddLambdaNode(node.GetName(), compose.InvokableLambda(node.Execute), compose.WithNodeName(node.GetName())); err != nil {
		return fmt.Errorf("failed to add node %s: %w", node.GetName(), err)
	}
	return nil
}

// Invoke runs one execution over state
func (w *Workflow) Invoke(ctx context.Context, state *pkg.ConversationState) (*pkg.ConversationState, error) {
	return w.runnable.Invoke(ctx, state)
}

func (w *Workflow) Variant() string {
	return w.variant
}
