package graph

import (
	"context"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	"github.com/ss2dbx/server/internal/migration/graph/nodes"
	"github.com/ss2dbx/server/internal/migration/graph/observers"
	"github.com/ss2dbx/server/internal/migration/graph/prompts"
	"github.com/ss2dbx/server/internal/migration/model"
	logx "github.com/ss2dbx/server/pkg/logger"
)

// Runner executes one stage: compose the prompt, call the completion service
// once and split the response.
type Runner interface {
	Run(ctx context.Context, req model.StageRequest) (*model.StageOutcome, error)
}

// Config holds everything needed to compose the stage graph end-to-end.
// This is a convenience layer over GraphConfig that also constructs the chat
// model and loads the base instructions.
type Config struct {
	Completion model.CompletionConfig
	Prompt     model.PromptConfig
	Defaults   model.StageParams
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	ChatModel *nodes.ChatModel
	Composer  *prompts.Composer
	// Timeout bounds a single completion call; zero means no limit.
	Timeout time.Duration
}

// GraphBuilder handles the construction of the stage graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.StageRequest, *model.StageOutcome]
}

type graphRunner struct {
	runnable compose.Runnable[model.StageRequest, *model.StageOutcome]
	timeout  time.Duration
}

func (r *graphRunner) Run(ctx context.Context, req model.StageRequest) (*model.StageOutcome, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := r.runnable.Invoke(ctx, req,
		compose.WithCallbacks(observers.NewAllCallbacks()),
		compose.WithChatModelOption(callOptions(req.Params)...),
	)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("stage graph returned no outcome")
	}
	return out, nil
}

// callOptions turns per-stage settings into chat model call options. Zero
// values keep the model's construction-time defaults.
func callOptions(p model.StageParams) []einomodel.Option {
	var opts []einomodel.Option
	if p.Model != "" {
		opts = append(opts, einomodel.WithModel(p.Model))
	}
	if p.MaxTokens > 0 {
		opts = append(opts, einomodel.WithMaxTokens(p.MaxTokens))
	}
	opts = append(opts, einomodel.WithTemperature(p.Temperature))
	return opts
}

// BuildRunner creates the chat model, loads the base instructions, builds the
// graph, and returns a Runner.
func BuildRunner(ctx context.Context, cfg Config) (Runner, error) {
	cm, err := nodes.NewChatModel(ctx, nodes.ChatModelConfig{
		Completion: cfg.Completion,
		Defaults:   cfg.Defaults,
	})
	if err != nil {
		return nil, err
	}

	base, err := prompts.LoadBaseInstructions(cfg.Prompt.BasePromptPath)
	if err != nil {
		return nil, err
	}

	gc := &GraphConfig{
		ChatModel: cm,
		Composer:  prompts.NewComposer(base),
		Timeout:   cfg.Completion.Timeout,
	}
	runnable, err := BuildGraph(ctx, gc)
	if err != nil {
		return nil, err
	}

	logx.Debug().Str("provider", cm.Provider).Str("model", cm.ModelName).Msg("Stage graph built successfully")
	return &graphRunner{runnable: runnable, timeout: gc.Timeout}, nil
}

// NewRunner wraps an already built graph.
func NewRunner(ctx context.Context, config *GraphConfig) (Runner, error) {
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	return &graphRunner{runnable: runnable, timeout: config.Timeout}, nil
}

// BuildGraph constructs and returns the compiled stage graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.StageRequest, *model.StageOutcome], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModel == nil || config.ChatModel.Model == nil {
		return nil, fmt.Errorf("chat model is not properly initialized")
	}
	if config.Composer == nil {
		return nil, fmt.Errorf("prompt composer is nil")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.StageRequest, *model.StageOutcome](
			compose.WithGenLocalState(func(ctx context.Context) *model.StageState {
				return &model.StageState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	if err := b.graph.AddLambdaNode(nodes.NodePromptComposer,
		nodes.NewPromptComposerNode(b.config.Composer),
		compose.WithStatePreHandler(nodes.NewPromptComposerPreHandler(b.config.ChatModel.ModelName)),
	); err != nil {
		return fmt.Errorf("add %s: %w", nodes.NodePromptComposer, err)
	}

	if err := b.graph.AddChatModelNode(nodes.NodeChatModel,
		b.config.ChatModel.Model,
		compose.WithStatePostHandler(nodes.NewChatModelPostHandler()),
	); err != nil {
		return fmt.Errorf("add %s: %w", nodes.NodeChatModel, err)
	}

	if err := b.graph.AddLambdaNode(nodes.NodeHandoffDecoder, nodes.NewHandoffDecoderNode()); err != nil {
		return fmt.Errorf("add %s: %w", nodes.NodeHandoffDecoder, err)
	}
	if err := b.graph.AddLambdaNode(nodes.NodeVerbatim, nodes.NewVerbatimNode()); err != nil {
		return fmt.Errorf("add %s: %w", nodes.NodeVerbatim, err)
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodePromptComposer},
		{nodes.NodePromptComposer, nodes.NodeChatModel},
		{nodes.NodeHandoffDecoder, compose.END},
		{nodes.NodeVerbatim, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() error {
	outputBranch := compose.NewGraphBranch(
		nodes.NewStageOutputCondition(),
		map[string]bool{
			nodes.NodeHandoffDecoder: true,
			nodes.NodeVerbatim:       true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeChatModel, outputBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding stage output branch")
		return fmt.Errorf("error adding stage output branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.StageRequest, *model.StageOutcome], error) {
	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(10))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
