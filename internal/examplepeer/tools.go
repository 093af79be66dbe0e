package examplepeer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mitchellh/mapstructure"
)

const (
	PARAM_TEXT    = "text"
	PARAM_A       = "a"
	PARAM_B       = "b"
	PARAM_MESSAGE = "message"

	TOOL_ECHO = "echo"
	TOOL_ADD  = "add"
	TOOL_FAIL = "fail"
)

type echoArgs struct {
	Text  string `json:"text" jsonschema:"description=text to send back"`
	Upper bool   `json:"upper,omitempty" jsonschema:"description=upper case the reply"`
}

type addArgs struct {
	A float64 `json:"a" jsonschema:"description=first addend"`
	B float64 `json:"b" jsonschema:"description=second addend"`
}

type failArgs struct {
	Message string `json:"message,omitempty" jsonschema:"description=error text to report"`
}

type toolHandler func(args map[string]any) (*mcp.CallToolResult, error)

type providedTool struct {
	tool    mcp.Tool
	handler toolHandler
}

var toolsProvided = []providedTool{
	{mcp.NewToolWithRawSchema(TOOL_ECHO, "Echo the given text", schemaFor[echoArgs]()), doEcho},
	{mcp.NewToolWithRawSchema(TOOL_ADD, "Add two numbers", schemaFor[addArgs]()), doAdd},
	{mcp.NewToolWithRawSchema(TOOL_FAIL, "Always report a tool error", schemaFor[failArgs]()), doFail},
}

// GetProvidedToolNames returns the tool names in sorted order.
func GetProvidedToolNames() []string {
	names := make([]string, len(toolsProvided))
	for idx, pt := range toolsProvided {
		names[idx] = pt.tool.GetName()
	}
	sort.Strings(names)
	return names
}

func tools() []mcp.Tool {
	out := make([]mcp.Tool, len(toolsProvided))
	for i, pt := range toolsProvided {
		out[i] = pt.tool
	}
	return out
}

func lookupTool(name string) (toolHandler, bool) {
	for _, pt := range toolsProvided {
		if pt.tool.Name == name {
			return pt.handler, true
		}
	}
	return nil, false
}

// schemaFor reflects the input schema of a tool from its argument struct.
func schemaFor[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(T))
	s.Version = ""
	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("reflect schema for %T: %v", *new(T), err))
	}
	return raw
}

// decodeArgs fills T from tool call arguments, rejecting unknown keys.
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(args); err != nil {
		return out, err
	}
	return out, nil
}

func doEcho(args map[string]any) (*mcp.CallToolResult, error) {
	in, err := decodeArgs[echoArgs](args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, ok := args[PARAM_TEXT]; !ok {
		return mcp.NewToolResultError("missing required argument: text"), nil
	}
	if in.Upper {
		return mcp.NewToolResultText(strings.ToUpper(in.Text)), nil
	}
	return mcp.NewToolResultText(in.Text), nil
}

func doAdd(args map[string]any) (*mcp.CallToolResult, error) {
	in, err := decodeArgs[addArgs](args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%v", in.A+in.B)), nil
}

func doFail(args map[string]any) (*mcp.CallToolResult, error) {
	in, err := decodeArgs[failArgs](args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if in.Message == "" {
		in.Message = "tool failed"
	}
	return mcp.NewToolResultError(in.Message), nil
}
