// Package tools exposes the story flows as eino tools so an agent graph
// can call them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/Sternrassler/pixstory/pkg/provider"
	"github.com/Sternrassler/pixstory/pkg/story"
)

// Tool names.
const (
	PixStoryToolName  = "pixstory_generate"
	DreamLensToolName = "dreamlens_generate"
	ActionsToolName   = "job_actions_generate"
)

// All returns every story tool backed by svc.
func All(svc *story.Service) []einotool.BaseTool {
	return []einotool.BaseTool{
		NewPixStoryTool(svc),
		NewDreamLensTool(svc),
		NewActionsTool(svc),
	}
}

func genreParam(desc string, required bool) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.String, Enum: story.Genres, Required: required, Desc: desc}
}

func decodeArgs(argumentsInJSON string, v any) error {
	if err := json.Unmarshal([]byte(argumentsInJSON), v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

func encodeResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PixStoryTool writes a novel from a batch of photos.
type PixStoryTool struct {
	svc *story.Service
}

// PixStoryArgs are the tool arguments.
type PixStoryArgs struct {
	Images        []string `json:"images"`
	CharacterName string   `json:"character_name"`
	Gender        string   `json:"gender"`
	Genre         string   `json:"genre"`
}

// NewPixStoryTool creates the tool.
func NewPixStoryTool(svc *story.Service) *PixStoryTool {
	return &PixStoryTool{svc: svc}
}

// Info describes the tool.
func (t *PixStoryTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"images": {
			Type:     schema.Array,
			ElemInfo: &schema.ParameterInfo{Type: schema.String, Desc: "image as a base64 data URL"},
			Required: true,
			Desc:     "photos in story order",
		},
		"character_name": {Type: schema.String, Required: true, Desc: "name of the main character"},
		"gender":         {Type: schema.String, Desc: "gender of the main character"},
		"genre":          genreParam("story genre", true),
	}
	return &schema.ToolInfo{
		Name:        PixStoryToolName,
		Desc:        "Captions every photo and writes a novel that follows them in order",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun runs the generation and returns the captions and novel as JSON.
func (t *PixStoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args PixStoryArgs
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}

	images := make([]provider.Image, len(args.Images))
	for i, url := range args.Images {
		images[i] = provider.Image{DataURL: url}
	}

	res, err := t.svc.PixStory(ctx, story.PixStoryRequest{
		Images:        images,
		CharacterName: args.CharacterName,
		Gender:        args.Gender,
		Genre:         args.Genre,
	})
	if err != nil {
		return "", err
	}
	return encodeResult(res)
}

// DreamLensTool illustrates dream-job actions and writes a story about them.
type DreamLensTool struct {
	svc *story.Service
}

// DreamLensArgs are the tool arguments.
type DreamLensArgs struct {
	Actions  []string `json:"actions"`
	UserName string   `json:"user_name"`
	JobTitle string   `json:"job_title"`
	Genre    string   `json:"genre"`
}

// NewDreamLensTool creates the tool.
func NewDreamLensTool(svc *story.Service) *DreamLensTool {
	return &DreamLensTool{svc: svc}
}

// Info describes the tool.
func (t *DreamLensTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"actions": {
			Type:     schema.Array,
			ElemInfo: &schema.ParameterInfo{Type: schema.String},
			Required: true,
			Desc:     "activities to illustrate, in story order",
		},
		"user_name": {Type: schema.String, Required: true, Desc: "name of the dreamer"},
		"job_title": {Type: schema.String, Required: true, Desc: fmt.Sprintf("dream job, at most %d characters", story.MaxJobTitleLength)},
		"genre":     genreParam("story genre, defaults to fantasy", false),
	}
	return &schema.ToolInfo{
		Name:        DreamLensToolName,
		Desc:        "Draws one picture per dream-job activity and writes a story around them",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun runs the generation and returns the illustrations and story as JSON.
func (t *DreamLensTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args DreamLensArgs
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}

	res, err := t.svc.DreamLens(ctx, story.DreamLensRequest{
		Actions:  args.Actions,
		UserName: args.UserName,
		JobTitle: args.JobTitle,
		Genre:    args.Genre,
	})
	if err != nil {
		return "", err
	}
	return encodeResult(res)
}

// ActionsTool suggests activities for a job title.
type ActionsTool struct {
	svc *story.Service
}

// ActionsArgs are the tool arguments.
type ActionsArgs struct {
	JobTitle string `json:"job_title"`
}

// NewActionsTool creates the tool.
func NewActionsTool(svc *story.Service) *ActionsTool {
	return &ActionsTool{svc: svc}
}

// Info describes the tool.
func (t *ActionsTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"job_title": {Type: schema.String, Required: true, Desc: "job title to suggest activities for"},
	}
	return &schema.ToolInfo{
		Name:        ActionsToolName,
		Desc:        "Suggests ten everyday activities of a job",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun returns the job title and its suggested actions as JSON.
func (t *ActionsTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args ActionsArgs
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}

	res, err := t.svc.SuggestActions(ctx, args.JobTitle, nil)
	if err != nil {
		return "", err
	}
	return encodeResult(res)
}

var (
	_ einotool.InvokableTool = (*PixStoryTool)(nil)
	_ einotool.InvokableTool = (*DreamLensTool)(nil)
	_ einotool.InvokableTool = (*ActionsTool)(nil)
)
