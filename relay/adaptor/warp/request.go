package warp

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"

	relaymodel "github.com/polygate/polygate/relay/model"
	"github.com/polygate/polygate/relay/vendor"
)

// ErrUnknownToolResult marks a tool_result whose tool_use_id was never seen
// in the session; callers render it as a protocol error.
var ErrUnknownToolResult = errors.New("tool_result references unknown tool_use_id")

// ErrNoUserTurn marks a conversation that does not end with a user message.
var ErrNoUserTurn = errors.New("conversation must end with a user message")

// SessionID derives the conversation id from request metadata, falling back
// to a fresh UUID for single-shot requests.
func SessionID(request *relaymodel.Request) string {
	if request.Metadata != nil {
		if id, ok := request.Metadata["session_id"].(string); ok && id != "" {
			return id
		}
		if id, ok := request.Metadata["user_id"].(string); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

// BuildRequest assembles the full Warp request from the canonical input.
// Prior turns become task messages; the trailing user turn becomes the
// live user_inputs. Tool names seen in assistant tool_use blocks are
// remembered in the session so tool results can pick the matching branch.
func BuildRequest(canonical *relaymodel.Request, session *Session) (*Request, error) {
	taskID := uuid.NewString()
	now := time.Now()

	lastUser := canonical.LastUserMessage()
	priorCount := len(canonical.Messages)
	if lastUser != nil {
		priorCount--
	}

	var taskMessages []*TaskMessage
	for i := 0; i < priorCount; i++ {
		converted, err := convertHistoryMessage(&canonical.Messages[i], session)
		if err != nil {
			return nil, err
		}
		taskMessages = append(taskMessages, converted...)
	}

	userInputs, err := convertUserTurn(lastUser, session)
	if err != nil {
		return nil, err
	}

	pwd := session.WorkingDir
	if pwd == "" {
		pwd = "/tmp"
	}
	home := session.HomeDir
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	inputContext := &InputContext{
		Directory:       &Directory{Pwd: pwd, Home: home},
		OperatingSystem: &OperatingSystem{Platform: runtime.GOOS},
		Shell:           &ShellInfo{Name: "bash", Version: "5.2"},
		CurrentTime:     &Timestamp{Seconds: now.Unix(), Nanos: int32(now.Nanosecond())},
	}
	if systemText := canonical.SystemText(); systemText != "" {
		inputContext.ProjectRules = []*ProjectRule{{
			RootPath: pwd,
			ActiveRuleFiles: []*RuleFile{{
				FilePath: ".claude/rules.md",
				Content:  systemText,
			}},
		}}
	}

	settings := &Settings{
		ModelName:                 vendor.ResolveWarpModel(canonical.Model),
		RulesEnabled:              true,
		SupportsParallelToolCalls: true,
		PlanningEnabled:           false,
	}
	for _, tool := range canonical.Tools {
		settings.SupportedTools = append(settings.SupportedTools, ToolTypeForName(tool.Name))
	}

	return &Request{
		TaskContext: &TaskContext{
			Tasks: []*Task{{
				ID:       taskID,
				Status:   TaskStatusInProgress,
				Messages: taskMessages,
			}},
			ActiveTaskID: taskID,
		},
		Input: &Input{
			Context:    inputContext,
			UserInputs: &UserInputs{Inputs: userInputs},
		},
		Settings: settings,
		Metadata: &Metadata{ConversationID: session.ID},
	}, nil
}

// convertHistoryMessage translates one prior turn into task messages, one
// per content block family.
func convertHistoryMessage(message *relaymodel.Message, session *Session) ([]*TaskMessage, error) {
	var out []*TaskMessage

	if message.Role == relaymodel.RoleUser {
		var text string
		for _, block := range message.Content {
			switch block.Type {
			case relaymodel.ContentTypeText:
				text += block.Text
			case relaymodel.ContentTypeToolResult:
				result, err := convertResultBlock(&block, session)
				if err != nil {
					return nil, err
				}
				out = append(out, &TaskMessage{ID: uuid.NewString(), ToolCallResult: result})
			}
		}
		if text != "" {
			out = append(out, &TaskMessage{
				ID:        uuid.NewString(),
				UserQuery: &UserQuery{Query: text},
			})
		}
		return out, nil
	}

	for _, block := range message.Content {
		switch block.Type {
		case relaymodel.ContentTypeText:
			out = append(out, &TaskMessage{
				ID:          uuid.NewString(),
				AgentOutput: &AgentOutput{Text: block.Text},
			})
		case relaymodel.ContentTypeToolUse:
			call, err := ConvertToolUse(block.ID, block.Name, block.Input)
			if err != nil {
				return nil, err
			}
			session.RememberToolCall(block.ID, block.Name)
			out = append(out, &TaskMessage{ID: uuid.NewString(), ToolCall: call})
		}
	}
	return out, nil
}

// convertUserTurn splits the trailing user turn into user_query and
// tool_call_result inputs.
func convertUserTurn(message *relaymodel.Message, session *Session) ([]*UserInput, error) {
	if message == nil {
		return nil, ErrNoUserTurn
	}

	var inputs []*UserInput
	var text string
	for _, block := range message.Content {
		switch block.Type {
		case relaymodel.ContentTypeText:
			text += block.Text
		case relaymodel.ContentTypeToolResult:
			result, err := convertResultBlock(&block, session)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, &UserInput{ToolCallResult: result})
		}
	}
	if text != "" || len(inputs) == 0 {
		inputs = append(inputs, &UserInput{UserQuery: &UserQuery{Query: text}})
		session.RotateTurn()
	}
	return inputs, nil
}

func convertResultBlock(block *relaymodel.ContentBlock, session *Session) (*ToolCallResult, error) {
	toolName, ok := session.ToolNameFor(block.ToolUseID)
	if !ok {
		// Tool calls inside the same request body register before the
		// result converts, so a miss means the client referenced a call
		// this session never saw.
		if strings.HasPrefix(block.ToolUseID, "mcp__") {
			toolName = block.ToolUseID
		} else {
			return nil, errors.Wrapf(ErrUnknownToolResult, "tool_use_id %s", block.ToolUseID)
		}
	}
	return ConvertToolResult(block.ToolUseID, toolName, block.ResultText(), block.IsError), nil
}
