// Package tools registers the site management tools on an MCP server.
//
// Every tool is backed by a site.Store. Input and output schemas are
// reflected from the argument and result structs, and the SDK validates
// both sides of each call against them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/ggoodman/sitemcp/internal/logctx"
	"github.com/ggoodman/sitemcp/internal/telemetry"
	"github.com/ggoodman/sitemcp/site"
	"github.com/invopop/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tool names as advertised in tools/list.
const (
	SiteInfo         = "site_info"
	GetPost          = "get_post"
	UpdatePost       = "update_post"
	CreatePost       = "create_post"
	ActivatePlugin   = "activate_plugin"
	DeactivatePlugin = "deactivate_plugin"
)

type config struct {
	log     *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// Option configures Register.
type Option func(*config)

// WithLogger sets the logger used for tool call events.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithMetrics counts tool calls.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithTracer overrides the tracer used for tool spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *config) { c.tracer = t }
}

// Register adds every site tool to s.
func Register(s *mcp.Server, store site.Store, opts ...Option) {
	c := &config{log: slog.Default(), tracer: telemetry.Tracer()}
	for _, opt := range opts {
		opt(c)
	}
	h := &handlers{store: store}

	addTool(s, c, SiteInfo, "Get basic information about the WordPress site.", h.siteInfo)
	addTool(s, c, GetPost, "Get a post by ID.", h.getPost)
	addTool(s, c, UpdatePost, "Update an existing post. Only the provided fields are changed.", h.updatePost)
	addTool(s, c, CreatePost, "Create a new post. Posts are drafts unless a status is given.", h.createPost)
	addTool(s, c, ActivatePlugin, "Activate an installed plugin by slug.", h.activatePlugin)
	addTool(s, c, DeactivatePlugin, "Deactivate an installed plugin by slug.", h.deactivatePlugin)
}

func addTool[In, Out any](s *mcp.Server, c *config, name, description string, fn mcp.ToolHandlerFor[In, Out]) {
	mcp.AddTool(s, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  reflectSchema[In](),
		OutputSchema: reflectSchema[Out](),
	}, instrument(c, name, fn))
}

// reflectSchema reflects T into an inline object schema. Pointer types are
// reflected as their element type. The draft identifier is dropped; the SDK
// assumes 2020-12.
func reflectSchema[T any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	s := r.ReflectFromType(t)
	s.Version = ""
	s.ID = ""
	return s
}

func instrument[In, Out any](c *config, name string, fn mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})
		ctx, span := c.tracer.Start(ctx, "tool."+name)
		defer span.End()

		res, out, err := fn(ctx, req, in)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool failed")
			c.metrics.ToolCall(name, "error")
			c.log.WarnContext(ctx, "tool.call.error", slog.String("err", err.Error()))
			return res, out, err
		}

		c.metrics.ToolCall(name, "ok")
		c.log.DebugContext(ctx, "tool.call.ok")
		return res, out, nil
	}
}

type handlers struct {
	store site.Store
}

type SiteInfoInput struct{}

type GetPostInput struct {
	PostID int64 `json:"post_id" jsonschema:"minimum=1,description=The ID of the post"`
}

type UpdatePostInput struct {
	PostID  int64   `json:"post_id" jsonschema:"minimum=1,description=The ID of the post to update"`
	Title   *string `json:"title,omitempty" jsonschema:"description=The new post title"`
	Content *string `json:"content,omitempty" jsonschema:"description=The new post content"`
	Excerpt *string `json:"excerpt,omitempty" jsonschema:"description=The new post excerpt"`
	Status  *string `json:"status,omitempty" jsonschema:"enum=publish,enum=draft,enum=private,enum=pending,enum=future,description=The new post status"`
}

// UpdatePostOutput reports the outcome of update_post. A post that does
// not exist or a call with nothing to change is reported with Success
// false rather than as a tool error.
type UpdatePostOutput struct {
	Success       bool     `json:"success"`
	PostID        int64    `json:"post_id,omitempty"`
	Message       string   `json:"message"`
	UpdatedFields []string `json:"updated_fields,omitempty"`
}

type CreatePostInput struct {
	Title   string `json:"title" jsonschema:"minLength=1,description=The post title"`
	Content string `json:"content,omitempty" jsonschema:"description=The post content"`
	Excerpt string `json:"excerpt,omitempty" jsonschema:"description=The post excerpt"`
	Status  string `json:"status,omitempty" jsonschema:"enum=publish,enum=draft,enum=private,enum=pending,enum=future,default=draft,description=The post status"`
}

type PluginInput struct {
	Plugin string `json:"plugin" jsonschema:"minLength=1,description=The plugin slug"`
}

type PluginOutput struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Plugin  *site.Plugin `json:"plugin,omitempty"`
}

func (h *handlers) siteInfo(ctx context.Context, _ *mcp.CallToolRequest, _ SiteInfoInput) (*mcp.CallToolResult, *site.Info, error) {
	info, err := h.store.Info(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading site info: %w", err)
	}
	if info.ActivePlugins == nil {
		info.ActivePlugins = []string{}
	}
	return nil, info, nil
}

func (h *handlers) getPost(ctx context.Context, _ *mcp.CallToolRequest, in GetPostInput) (*mcp.CallToolResult, *site.Post, error) {
	p, err := h.store.GetPost(ctx, in.PostID)
	if err != nil {
		if errors.Is(err, site.ErrPostNotFound) {
			return nil, nil, fmt.Errorf("Post with ID %d not found", in.PostID)
		}
		return nil, nil, fmt.Errorf("reading post: %w", err)
	}
	return nil, p, nil
}

func (h *handlers) updatePost(ctx context.Context, _ *mcp.CallToolRequest, in UpdatePostInput) (*mcp.CallToolResult, UpdatePostOutput, error) {
	if _, err := h.store.GetPost(ctx, in.PostID); err != nil {
		if errors.Is(err, site.ErrPostNotFound) {
			return nil, UpdatePostOutput{Message: fmt.Sprintf("Post with ID %d not found", in.PostID)}, nil
		}
		return nil, UpdatePostOutput{}, fmt.Errorf("reading post: %w", err)
	}

	var (
		patch  site.PostPatch
		fields = make([]string, 0, 4)
	)
	if in.Title != nil && *in.Title != "" {
		patch.Title = in.Title
		fields = append(fields, "title")
	}
	if in.Content != nil {
		patch.Content = in.Content
		fields = append(fields, "content")
	}
	if in.Excerpt != nil {
		patch.Excerpt = in.Excerpt
		fields = append(fields, "excerpt")
	}
	if in.Status != nil && *in.Status != "" {
		status := site.Status(*in.Status)
		patch.Status = &status
		fields = append(fields, "status")
	}

	if patch.Empty() {
		return nil, UpdatePostOutput{Message: "No valid fields provided for update"}, nil
	}

	if _, err := h.store.UpdatePost(ctx, in.PostID, patch); err != nil {
		return nil, UpdatePostOutput{Message: fmt.Sprintf("Failed to update post: %s", err)}, nil
	}

	return nil, UpdatePostOutput{
		Success:       true,
		PostID:        in.PostID,
		Message:       "Post updated successfully",
		UpdatedFields: fields,
	}, nil
}

func (h *handlers) createPost(ctx context.Context, _ *mcp.CallToolRequest, in CreatePostInput) (*mcp.CallToolResult, *site.Post, error) {
	p, err := h.store.CreatePost(ctx, site.NewPost{
		Title:   in.Title,
		Content: in.Content,
		Excerpt: in.Excerpt,
		Status:  site.Status(in.Status),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating post: %w", err)
	}
	return nil, p, nil
}

func (h *handlers) activatePlugin(ctx context.Context, _ *mcp.CallToolRequest, in PluginInput) (*mcp.CallToolResult, PluginOutput, error) {
	return h.setPlugin(ctx, in.Plugin, h.store.ActivatePlugin, "activated")
}

func (h *handlers) deactivatePlugin(ctx context.Context, _ *mcp.CallToolRequest, in PluginInput) (*mcp.CallToolResult, PluginOutput, error) {
	return h.setPlugin(ctx, in.Plugin, h.store.DeactivatePlugin, "deactivated")
}

func (h *handlers) setPlugin(ctx context.Context, slug string, op func(context.Context, string) (*site.Plugin, error), verb string) (*mcp.CallToolResult, PluginOutput, error) {
	p, err := op(ctx, slug)
	if err != nil {
		if errors.Is(err, site.ErrPluginNotFound) {
			return nil, PluginOutput{Message: fmt.Sprintf("Plugin %q not found", slug)}, nil
		}
		return nil, PluginOutput{}, fmt.Errorf("updating plugin: %w", err)
	}
	return nil, PluginOutput{
		Success: true,
		Message: fmt.Sprintf("Plugin %s %s", p.Slug, verb),
		Plugin:  p,
	}, nil
}
