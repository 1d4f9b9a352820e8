package warp

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Laisky/errors/v2"
)

// Canonical tool names understood by the mapping.
const (
	toolBash  = "Bash"
	toolRead  = "Read"
	toolWrite = "Write"
	toolEdit  = "Edit"
	toolGrep  = "Grep"
	toolGlob  = "Glob"
)

// readOnlyCommands are shell commands that never mutate state when they lead
// the command line.
var readOnlyCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "grep": true,
	"find": true, "pwd": true, "echo": true, "wc": true, "tree": true,
	"file": true, "stat": true, "du": true, "df": true, "which": true,
	"whereis": true, "type": true, "env": true, "printenv": true,
	"whoami": true, "id": true, "date": true, "uname": true, "hostname": true,
}

var readOnlySubcommands = map[string]map[string]bool{
	"git": {"status": true, "log": true, "diff": true, "show": true,
		"branch": true, "remote": true, "tag": true},
	"npm": {"list": true, "ls": true, "view": true, "info": true, "search": true},
}

var riskyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rf][a-zA-Z]*\b`),
	regexp.MustCompile(`\brm\s+-rf\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bchmod\s+777\b`),
	regexp.MustCompile(`\bchown\b`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\b`),
	regexp.MustCompile(`curl[^|]*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bkill\s+-9\b`),
	regexp.MustCompile(`\bshutdown\b`),
	regexp.MustCompile(`\breboot\b`),
	regexp.MustCompile(`>\s*/dev/`),
}

// IsReadOnlyCommand reports whether the command's leading word (or leading
// word plus subcommand) is on the curated safe list.
func IsReadOnlyCommand(command string) bool {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return false
	}
	if readOnlyCommands[fields[0]] {
		return true
	}
	if subs, ok := readOnlySubcommands[fields[0]]; ok && len(fields) > 1 {
		return subs[fields[1]]
	}
	return false
}

// IsRiskyCommand reports whether the command matches any destructive
// pattern.
func IsRiskyCommand(command string) bool {
	for _, pattern := range riskyPatterns {
		if pattern.MatchString(command) {
			return true
		}
	}
	return false
}

// ToolTypeForName maps a canonical tool name to its Warp tool type.
// mcp__-prefixed and unknown names collapse into CALL_MCP_TOOL.
func ToolTypeForName(name string) int {
	switch name {
	case toolBash:
		return ToolTypeRunShellCommand
	case toolRead:
		return ToolTypeReadFiles
	case toolWrite, toolEdit:
		return ToolTypeApplyFileDiffs
	case toolGrep:
		return ToolTypeGrep
	case toolGlob:
		return ToolTypeFileGlobV2
	default:
		return ToolTypeCallMCPTool
	}
}

// ConvertToolUse translates one canonical tool_use block into a Warp
// ToolCall, preserving the call id.
func ConvertToolUse(id, name string, input json.RawMessage) (*ToolCall, error) {
	call := &ToolCall{ToolCallID: id}

	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, errors.Wrapf(err, "decode input of tool %s", name)
		}
	}

	switch name {
	case toolBash:
		command, _ := args["command"].(string)
		call.RunShellCommand = &RunShellCommand{
			Command:    command,
			IsReadOnly: IsReadOnlyCommand(command),
			IsRisky:    IsRiskyCommand(command),
		}
	case toolRead:
		filePath, _ := args["file_path"].(string)
		file := &ReadFile{Name: filePath}
		if offset, ok := numberArg(args, "offset"); ok {
			lineRange := &LineRange{Start: offset}
			if limit, ok := numberArg(args, "limit"); ok {
				lineRange.End = offset + limit - 1
			}
			file.LineRanges = append(file.LineRanges, lineRange)
		}
		call.ReadFiles = &ReadFiles{Files: []*ReadFile{file}}
	case toolWrite:
		filePath, _ := args["file_path"].(string)
		content, _ := args["content"].(string)
		call.ApplyFileDiffs = &ApplyFileDiffs{
			NewFiles: []*NewFile{{FilePath: filePath, Content: content}},
		}
	case toolEdit:
		filePath, _ := args["file_path"].(string)
		oldString, _ := args["old_string"].(string)
		newString, _ := args["new_string"].(string)
		call.ApplyFileDiffs = &ApplyFileDiffs{
			Diffs: []*FileDiff{{FilePath: filePath, Search: oldString, Replace: newString}},
		}
	case toolGrep:
		pattern, _ := args["pattern"].(string)
		path, _ := args["path"].(string)
		call.Grep = &Grep{Queries: []string{pattern}, Path: path}
	case toolGlob:
		pattern, _ := args["pattern"].(string)
		path, _ := args["path"].(string)
		call.FileGlobV2 = &FileGlobV2{Patterns: []string{pattern}, SearchDir: path}
	default:
		argsJSON := "{}"
		if len(input) > 0 {
			argsJSON = string(input)
		}
		call.CallMCPTool = &CallMCPTool{Name: name, Args: argsJSON}
	}
	return call, nil
}

// ConvertToolCall translates a Warp ToolCall back into the canonical
// {id, name, input} triple. Round-tripping through ConvertToolUse is
// identity for every name in the mapping table.
func ConvertToolCall(call *ToolCall) (id, name string, input json.RawMessage, err error) {
	id = call.ToolCallID
	switch {
	case call.RunShellCommand != nil:
		name = toolBash
		input, err = marshalArgs(map[string]any{"command": call.RunShellCommand.Command})
	case call.ReadFiles != nil:
		name = toolRead
		args := map[string]any{}
		if len(call.ReadFiles.Files) > 0 {
			file := call.ReadFiles.Files[0]
			args["file_path"] = file.Name
			if len(file.LineRanges) > 0 {
				lineRange := file.LineRanges[0]
				args["offset"] = lineRange.Start
				if lineRange.End >= lineRange.Start {
					args["limit"] = lineRange.End - lineRange.Start + 1
				}
			}
		}
		input, err = marshalArgs(args)
	case call.ApplyFileDiffs != nil:
		diffs := call.ApplyFileDiffs
		if len(diffs.NewFiles) > 0 {
			name = toolWrite
			input, err = marshalArgs(map[string]any{
				"file_path": diffs.NewFiles[0].FilePath,
				"content":   diffs.NewFiles[0].Content,
			})
		} else if len(diffs.Diffs) > 0 {
			name = toolEdit
			input, err = marshalArgs(map[string]any{
				"file_path":  diffs.Diffs[0].FilePath,
				"old_string": diffs.Diffs[0].Search,
				"new_string": diffs.Diffs[0].Replace,
			})
		} else {
			name = toolWrite
			input = json.RawMessage("{}")
		}
	case call.Grep != nil:
		args := map[string]any{}
		if len(call.Grep.Queries) > 0 {
			args["pattern"] = call.Grep.Queries[0]
		}
		if call.Grep.Path != "" {
			args["path"] = call.Grep.Path
		}
		name = toolGrep
		input, err = marshalArgs(args)
	case call.FileGlobV2 != nil:
		args := map[string]any{}
		if len(call.FileGlobV2.Patterns) > 0 {
			args["pattern"] = call.FileGlobV2.Patterns[0]
		}
		if call.FileGlobV2.SearchDir != "" {
			args["path"] = call.FileGlobV2.SearchDir
		}
		name = toolGlob
		input, err = marshalArgs(args)
	case call.CallMCPTool != nil:
		name = call.CallMCPTool.Name
		if !strings.HasPrefix(name, "mcp__") {
			name = "mcp__" + name
		}
		input = json.RawMessage(call.CallMCPTool.Args)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
	default:
		return "", "", nil, errors.Errorf("tool call %s carries no payload", call.ToolCallID)
	}
	return id, name, input, err
}

// ConvertToolResult wraps a canonical tool_result into the Warp branch
// matching the originating tool's kind.
func ConvertToolResult(toolUseID, toolName, content string, isError bool) *ToolCallResult {
	result := &ToolResult{}
	if isError {
		result.Error = content
	} else {
		result.Success = content
	}

	out := &ToolCallResult{ToolCallID: toolUseID}
	switch ToolTypeForName(toolName) {
	case ToolTypeRunShellCommand:
		out.Shell = result
	case ToolTypeCallMCPTool:
		out.MCP = result
	default:
		out.Files = result
	}
	return out
}

func numberArg(args map[string]any, key string) (int64, bool) {
	value, ok := args[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(value), true
}

func marshalArgs(args map[string]any) (json.RawMessage, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "marshal tool input")
	}
	return data, nil
}
