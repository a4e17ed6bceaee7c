package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/faceblade"
)

const (
	ToolRegisterFaces = "register_faces"
	ToolCheckFace     = "check_face"
	ToolIdentifyFaces = "identify_faces"
	ToolListFaces     = "list_faces"
	ToolDeleteFaces   = "delete_faces"
)

func imagesOption() mcp.ToolOption {
	return mcp.WithArray("images",
		mcp.Required(),
		mcp.Description("Base64 encoded face crops"),
		mcp.Items(map[string]any{
			"type": "string",
		}),
	)
}

func groupOption() mcp.ToolOption {
	return mcp.WithString("group_id",
		mcp.Description("Group of the person, defaults to "+faceblade.DefaultGroupID),
	)
}

func thresholdOption() mcp.ToolOption {
	return mcp.WithNumber("threshold",
		mcp.Description("Similarity a match must exceed, in (0,1); omit for the configured one"),
		mcp.Min(0),
		mcp.Max(1),
	)
}

func Tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolRegisterFaces,
			mcp.WithDescription("Register face crops as faces of a person"),
			imagesOption(),
			groupOption(),
			mcp.WithString("person_id",
				mcp.Required(),
				mcp.Description("Person the faces belong to"),
			),
		),
		mcp.NewTool(ToolCheckFace,
			mcp.WithDescription("Verify whether face crops show the given person"),
			imagesOption(),
			groupOption(),
			mcp.WithString("person_id",
				mcp.Required(),
				mcp.Description("Person to verify against"),
			),
			thresholdOption(),
			mcp.WithString("policy",
				mcp.Description("How per-image verdicts combine"),
				mcp.Enum(string(faceblade.PolicyEach), string(faceblade.PolicyAll), string(faceblade.PolicyAny)),
			),
		),
		mcp.NewTool(ToolIdentifyFaces,
			mcp.WithDescription("Identify the best matching person of a group for each face crop"),
			imagesOption(),
			groupOption(),
			thresholdOption(),
		),
		mcp.NewTool(ToolListFaces,
			mcp.WithDescription("List the registered faces of a group, or of one person in it"),
			groupOption(),
			mcp.WithString("person_id",
				mcp.Description("Restrict the list to one person"),
			),
		),
		mcp.NewTool(ToolDeleteFaces,
			mcp.WithDescription("Delete one face by id, or every face of a group or person"),
			groupOption(),
			mcp.WithString("person_id",
				mcp.Description("Restrict the deletion to one person"),
			),
			mcp.WithString("face_id",
				mcp.Description("Delete only this face"),
			),
		),
	}
}

// ToolHandler runs one tool on raw JSON arguments. Service failures are
// reported as tool errors, not protocol errors.
type ToolHandler func(ctx context.Context, args json.RawMessage) *mcp.CallToolResult

func ToolHandlers(svc faceblade.Service) map[string]ToolHandler {
	return map[string]ToolHandler{
		ToolRegisterFaces: RegisterFacesTool(svc),
		ToolCheckFace:     CheckFaceTool(svc),
		ToolIdentifyFaces: IdentifyFacesTool(svc),
		ToolListFaces:     ListFacesTool(svc),
		ToolDeleteFaces:   DeleteFacesTool(svc),
	}
}

func defaultGroup(groupID string) string {
	if groupID == "" {
		return faceblade.DefaultGroupID
	}

	return groupID
}

func textResult(v any, err error) *mcp.CallToolResult {
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}

	bs, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}

	return mcp.NewToolResultText(string(bs))
}

func RegisterFacesTool(svc faceblade.Service) ToolHandler {
	return func(ctx context.Context, args json.RawMessage) *mcp.CallToolResult {
		var req faceblade.RegisterRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return mcp.NewToolResultError(err.Error())
		}

		scope := faceblade.Scope{
			GroupID:  defaultGroup(req.GroupID),
			PersonID: req.PersonID,
		}

		return textResult(svc.Register(ctx, req.Images, scope))
	}
}

func CheckFaceTool(svc faceblade.Service) ToolHandler {
	return func(ctx context.Context, args json.RawMessage) *mcp.CallToolResult {
		var req faceblade.CheckSingleRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return mcp.NewToolResultError(err.Error())
		}

		thresh, err := faceblade.RequestThreshold(req.Threshold)
		if err != nil {
			return mcp.NewToolResultError(err.Error())
		}

		scope := faceblade.Scope{
			GroupID:  defaultGroup(req.GroupID),
			PersonID: req.PersonID,
		}

		if req.Policy == "" {
			return textResult(svc.CheckSingle(ctx, req.Images, scope, thresh))
		}

		return textResult(svc.CheckSingle(ctx, req.Images, scope, thresh, req.Policy))
	}
}

func IdentifyFacesTool(svc faceblade.Service) ToolHandler {
	return func(ctx context.Context, args json.RawMessage) *mcp.CallToolResult {
		var req faceblade.CheckMultiRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return mcp.NewToolResultError(err.Error())
		}

		thresh, err := faceblade.RequestThreshold(req.Threshold)
		if err != nil {
			return mcp.NewToolResultError(err.Error())
		}

		return textResult(svc.CheckMulti(ctx, req.Images, defaultGroup(req.GroupID), thresh))
	}
}

func ListFacesTool(svc faceblade.Service) ToolHandler {
	return func(ctx context.Context, args json.RawMessage) *mcp.CallToolResult {
		var scope faceblade.Scope
		if err := json.Unmarshal(args, &scope); err != nil {
			return mcp.NewToolResultError(err.Error())
		}

		scope.GroupID = defaultGroup(scope.GroupID)

		return textResult(svc.ListFaces(ctx, scope))
	}
}

func DeleteFacesTool(svc faceblade.Service) ToolHandler {
	return func(ctx context.Context, args json.RawMessage) *mcp.CallToolResult {
		var req faceblade.DeleteFacesRequest
		if err := json.Unmarshal(args, &req); err != nil {
			return mcp.NewToolResultError(err.Error())
		}

		scope := faceblade.Scope{
			GroupID:  defaultGroup(req.GroupID),
			PersonID: req.PersonID,
		}

		count, err := svc.DeleteFaces(ctx, req.FaceID, scope)
		return textResult(faceblade.DeleteFacesResponse{Deleted: count}, err)
	}
}
