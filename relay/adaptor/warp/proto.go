// Package warp translates between the canonical Claude-shaped message model
// and Warp's warp.multi_agent.v1 Protobuf wire format. Payloads are encoded
// and decoded against the schema's field numbers directly with protowire;
// there is no generated code, so the message structs below are the schema.
package warp

import (
	"github.com/Laisky/errors/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// Tool types of warp.multi_agent.v1.ToolType.
const (
	ToolTypeRunShellCommand = 1
	ToolTypeReadFiles       = 2
	ToolTypeApplyFileDiffs  = 3
	ToolTypeGrep            = 4
	ToolTypeFileGlobV2      = 5
	ToolTypeCallMCPTool     = 6
)

// Task statuses.
const (
	TaskStatusInProgress = 2
	TaskStatusDone       = 3
)

// Finish reasons of ResponseEvent.Finished.
const (
	FinishReasonDone                  = 1
	FinishReasonQuotaLimit            = 2
	FinishReasonMaxTokenLimit         = 3
	FinishReasonContextWindowExceeded = 4
	FinishReasonLLMUnavailable        = 5
	FinishReasonInternalError         = 6
)

// ---- request-side messages ----

// Request is warp.multi_agent.v1.Request.
type Request struct {
	TaskContext *TaskContext // field 1
	Input       *Input       // field 2
	Settings    *Settings    // field 3
	Metadata    *Metadata    // field 4
}

type TaskContext struct {
	Tasks        []*Task // field 1
	ActiveTaskID string  // field 2
}

type Task struct {
	ID          string         // field 1
	Description string         // field 2
	Status      int            // field 3
	Messages    []*TaskMessage // field 4
	Summary     string         // field 5
}

// TaskMessage is one conversation entry; exactly one of the content fields
// is set.
type TaskMessage struct {
	ID             string          // field 1
	UserQuery      *UserQuery      // field 2
	ToolCallResult *ToolCallResult // field 3
	AgentOutput    *AgentOutput    // field 4
	ToolCall       *ToolCall       // field 5
}

type UserQuery struct {
	Query   string // field 1
	Context string // field 2
}

type AgentOutput struct {
	Text      string // field 1
	Reasoning string // field 2
}

// ToolCall carries exactly one tool payload.
type ToolCall struct {
	ToolCallID      string           // field 1
	RunShellCommand *RunShellCommand // field 2
	ReadFiles       *ReadFiles       // field 3
	ApplyFileDiffs  *ApplyFileDiffs  // field 4
	Grep            *Grep            // field 5
	FileGlobV2      *FileGlobV2      // field 6
	CallMCPTool     *CallMCPTool     // field 7
}

type RunShellCommand struct {
	Command    string // field 1
	IsReadOnly bool   // field 2
	IsRisky    bool   // field 3
	UsesPager  bool   // field 4
}

type ReadFiles struct {
	Files []*ReadFile // field 1
}

type ReadFile struct {
	Name       string       // field 1
	LineRanges []*LineRange // field 2
}

type LineRange struct {
	Start int64 // field 1
	End   int64 // field 2
}

type ApplyFileDiffs struct {
	Diffs    []*FileDiff // field 1
	NewFiles []*NewFile  // field 2
}

type FileDiff struct {
	FilePath string // field 1
	Search   string // field 2
	Replace  string // field 3
}

type NewFile struct {
	FilePath string // field 1
	Content  string // field 2
}

type Grep struct {
	Queries []string // field 1
	Path    string   // field 2
}

type FileGlobV2 struct {
	Patterns   []string // field 1
	SearchDir  string   // field 2
	MaxMatches int64    // field 3
	MaxDepth   int64    // field 4
	MinDepth   int64    // field 5
}

type CallMCPTool struct {
	Name string // field 1
	Args string // field 2, JSON-encoded arguments
}

// ToolCallResult carries exactly one result payload, chosen by the kind of
// the originating tool call.
type ToolCallResult struct {
	ToolCallID string      // field 1
	Shell      *ToolResult // field 2, RUN_SHELL_COMMAND
	Files      *ToolResult // field 3, READ_FILES / APPLY_FILE_DIFFS / GREP / FILE_GLOB_V2
	MCP        *ToolResult // field 4, CALL_MCP_TOOL
}

// ToolResult is a success/error branch pair; exactly one is set.
type ToolResult struct {
	Success string // field 1
	Error   string // field 2
}

type Input struct {
	Context    *InputContext // field 1
	UserInputs *UserInputs   // field 2
}

type InputContext struct {
	Directory       *Directory       // field 1
	OperatingSystem *OperatingSystem // field 2
	Shell           *ShellInfo       // field 3
	CurrentTime     *Timestamp       // field 4
	ProjectRules    []*ProjectRule   // field 5
}

type Directory struct {
	Pwd  string // field 1
	Home string // field 2
}

type OperatingSystem struct {
	Platform string // field 1
}

type ShellInfo struct {
	Name    string // field 1
	Version string // field 2
}

type Timestamp struct {
	Seconds int64 // field 1
	Nanos   int32 // field 2
}

type ProjectRule struct {
	RootPath        string      // field 1
	ActiveRuleFiles []*RuleFile // field 2
}

type RuleFile struct {
	FilePath string // field 1
	Content  string // field 2
}

type UserInputs struct {
	Inputs []*UserInput // field 1
}

// UserInput is one entry of the current turn; exactly one field is set.
type UserInput struct {
	UserQuery      *UserQuery      // field 1
	ToolCallResult *ToolCallResult // field 2
}

type Settings struct {
	ModelName                 string // field 1
	RulesEnabled              bool   // field 2
	SupportsParallelToolCalls bool   // field 3
	PlanningEnabled           bool   // field 4
	SupportedTools            []int  // field 5
}

type Metadata struct {
	ConversationID string // field 1
}

// ---- response-side messages ----

// ResponseEvent is warp.multi_agent.v1.ResponseEvent; exactly one field is
// set.
type ResponseEvent struct {
	Init          *InitEvent     // field 1
	ClientActions *ClientActions // field 2
	Finished      *Finished      // field 3
}

type InitEvent struct {
	ConversationID string // field 1
	RequestID      string // field 2
}

type ClientActions struct {
	Actions []*ClientAction // field 1
}

// ClientAction carries exactly one action payload.
type ClientAction struct {
	AppendToMessageContent *AppendToMessageContent // field 1
	AddMessagesToTask      *AddMessagesToTask      // field 2
	UpdateTaskMessage      *UpdateTaskMessage      // field 3
	CreateTask             *CreateTask             // field 4
	UpdateTaskStatus       *UpdateTaskStatus       // field 5
}

type AppendToMessageContent struct {
	Message *TaskMessage // field 1
}

type AddMessagesToTask struct {
	Messages []*TaskMessage // field 1
	TaskID   string         // field 2
}

type UpdateTaskMessage struct {
	Message *TaskMessage // field 1
}

type CreateTask struct {
	Task *Task // field 1
}

type UpdateTaskStatus struct {
	TaskID string // field 1
	Status int    // field 2
}

type Finished struct {
	Reason     int           // field 1
	TokenUsage []*TokenUsage // field 2
}

type TokenUsage struct {
	InputTokens         int64 // field 1
	OutputTokens        int64 // field 2
	CacheReadTokens     int64 // field 3
	CacheCreationTokens int64 // field 4
}

// ---- encoding ----

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendStringAlways encodes empty strings too; used where presence matters.
func appendStringAlways(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// Marshal encodes the request into its wire form.
func (r *Request) Marshal() []byte {
	var b []byte
	if r.TaskContext != nil {
		b = appendMessage(b, 1, r.TaskContext.marshal())
	}
	if r.Input != nil {
		b = appendMessage(b, 2, r.Input.marshal())
	}
	if r.Settings != nil {
		b = appendMessage(b, 3, r.Settings.marshal())
	}
	if r.Metadata != nil {
		b = appendMessage(b, 4, r.Metadata.marshal())
	}
	return b
}

func (t *TaskContext) marshal() []byte {
	var b []byte
	for _, task := range t.Tasks {
		b = appendMessage(b, 1, task.marshal())
	}
	b = appendString(b, 2, t.ActiveTaskID)
	return b
}

func (t *Task) marshal() []byte {
	var b []byte
	b = appendString(b, 1, t.ID)
	b = appendString(b, 2, t.Description)
	b = appendInt(b, 3, int64(t.Status))
	for _, msg := range t.Messages {
		b = appendMessage(b, 4, msg.marshal())
	}
	b = appendString(b, 5, t.Summary)
	return b
}

func (m *TaskMessage) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ID)
	switch {
	case m.UserQuery != nil:
		b = appendMessage(b, 2, m.UserQuery.marshal())
	case m.ToolCallResult != nil:
		b = appendMessage(b, 3, m.ToolCallResult.marshal())
	case m.AgentOutput != nil:
		b = appendMessage(b, 4, m.AgentOutput.marshal())
	case m.ToolCall != nil:
		b = appendMessage(b, 5, m.ToolCall.marshal())
	}
	return b
}

func (q *UserQuery) marshal() []byte {
	var b []byte
	b = appendStringAlways(b, 1, q.Query)
	b = appendString(b, 2, q.Context)
	return b
}

func (o *AgentOutput) marshal() []byte {
	var b []byte
	b = appendStringAlways(b, 1, o.Text)
	b = appendString(b, 2, o.Reasoning)
	return b
}

func (c *ToolCall) marshal() []byte {
	var b []byte
	b = appendString(b, 1, c.ToolCallID)
	switch {
	case c.RunShellCommand != nil:
		b = appendMessage(b, 2, c.RunShellCommand.marshal())
	case c.ReadFiles != nil:
		b = appendMessage(b, 3, c.ReadFiles.marshal())
	case c.ApplyFileDiffs != nil:
		b = appendMessage(b, 4, c.ApplyFileDiffs.marshal())
	case c.Grep != nil:
		b = appendMessage(b, 5, c.Grep.marshal())
	case c.FileGlobV2 != nil:
		b = appendMessage(b, 6, c.FileGlobV2.marshal())
	case c.CallMCPTool != nil:
		b = appendMessage(b, 7, c.CallMCPTool.marshal())
	}
	return b
}

func (c *RunShellCommand) marshal() []byte {
	var b []byte
	b = appendStringAlways(b, 1, c.Command)
	b = appendBool(b, 2, c.IsReadOnly)
	b = appendBool(b, 3, c.IsRisky)
	b = appendBool(b, 4, c.UsesPager)
	return b
}

func (r *ReadFiles) marshal() []byte {
	var b []byte
	for _, f := range r.Files {
		b = appendMessage(b, 1, f.marshal())
	}
	return b
}

func (f *ReadFile) marshal() []byte {
	var b []byte
	b = appendStringAlways(b, 1, f.Name)
	for _, lr := range f.LineRanges {
		b = appendMessage(b, 2, lr.marshal())
	}
	return b
}

func (l *LineRange) marshal() []byte {
	var b []byte
	b = appendInt(b, 1, l.Start)
	b = appendInt(b, 2, l.End)
	return b
}

func (a *ApplyFileDiffs) marshal() []byte {
	var b []byte
	for _, d := range a.Diffs {
		b = appendMessage(b, 1, d.marshal())
	}
	for _, f := range a.NewFiles {
		b = appendMessage(b, 2, f.marshal())
	}
	return b
}

func (d *FileDiff) marshal() []byte {
	var b []byte
	b = appendStringAlways(b, 1, d.FilePath)
	b = appendString(b, 2, d.Search)
	b = appendString(b, 3, d.Replace)
	return b
}

func (f *NewFile) marshal() []byte {
	var b []byte
	b = appendStringAlways(b, 1, f.FilePath)
	b = appendString(b, 2, f.Content)
	return b
}

func (g *Grep) marshal() []byte {
	var b []byte
	for _, q := range g.Queries {
		b = appendStringAlways(b, 1, q)
	}
	b = appendString(b, 2, g.Path)
	return b
}

func (g *FileGlobV2) marshal() []byte {
	var b []byte
	for _, p := range g.Patterns {
		b = appendStringAlways(b, 1, p)
	}
	b = appendString(b, 2, g.SearchDir)
	b = appendInt(b, 3, g.MaxMatches)
	b = appendInt(b, 4, g.MaxDepth)
	b = appendInt(b, 5, g.MinDepth)
	return b
}

func (c *CallMCPTool) marshal() []byte {
	var b []byte
	b = appendStringAlways(b, 1, c.Name)
	b = appendString(b, 2, c.Args)
	return b
}

func (r *ToolCallResult) marshal() []byte {
	var b []byte
	b = appendString(b, 1, r.ToolCallID)
	switch {
	case r.Shell != nil:
		b = appendMessage(b, 2, r.Shell.marshal())
	case r.Files != nil:
		b = appendMessage(b, 3, r.Files.marshal())
	case r.MCP != nil:
		b = appendMessage(b, 4, r.MCP.marshal())
	}
	return b
}

func (r *ToolResult) marshal() []byte {
	var b []byte
	if r.Error != "" {
		return appendStringAlways(b, 2, r.Error)
	}
	return appendStringAlways(b, 1, r.Success)
}

func (i *Input) marshal() []byte {
	var b []byte
	if i.Context != nil {
		b = appendMessage(b, 1, i.Context.marshal())
	}
	if i.UserInputs != nil {
		b = appendMessage(b, 2, i.UserInputs.marshal())
	}
	return b
}

func (c *InputContext) marshal() []byte {
	var b []byte
	if c.Directory != nil {
		b = appendMessage(b, 1, c.Directory.marshal())
	}
	if c.OperatingSystem != nil {
		b = appendMessage(b, 2, c.OperatingSystem.marshal())
	}
	if c.Shell != nil {
		b = appendMessage(b, 3, c.Shell.marshal())
	}
	if c.CurrentTime != nil {
		b = appendMessage(b, 4, c.CurrentTime.marshal())
	}
	for _, rule := range c.ProjectRules {
		b = appendMessage(b, 5, rule.marshal())
	}
	return b
}

func (d *Directory) marshal() []byte {
	var b []byte
	b = appendString(b, 1, d.Pwd)
	b = appendString(b, 2, d.Home)
	return b
}

func (o *OperatingSystem) marshal() []byte {
	return appendString(nil, 1, o.Platform)
}

func (s *ShellInfo) marshal() []byte {
	var b []byte
	b = appendString(b, 1, s.Name)
	b = appendString(b, 2, s.Version)
	return b
}

func (t *Timestamp) marshal() []byte {
	var b []byte
	b = appendInt(b, 1, t.Seconds)
	b = appendInt(b, 2, int64(t.Nanos))
	return b
}

func (p *ProjectRule) marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.RootPath)
	for _, f := range p.ActiveRuleFiles {
		b = appendMessage(b, 2, f.marshal())
	}
	return b
}

func (f *RuleFile) marshal() []byte {
	var b []byte
	b = appendString(b, 1, f.FilePath)
	b = appendString(b, 2, f.Content)
	return b
}

func (u *UserInputs) marshal() []byte {
	var b []byte
	for _, in := range u.Inputs {
		b = appendMessage(b, 1, in.marshal())
	}
	return b
}

func (u *UserInput) marshal() []byte {
	var b []byte
	switch {
	case u.UserQuery != nil:
		b = appendMessage(b, 1, u.UserQuery.marshal())
	case u.ToolCallResult != nil:
		b = appendMessage(b, 2, u.ToolCallResult.marshal())
	}
	return b
}

func (s *Settings) marshal() []byte {
	var b []byte
	b = appendString(b, 1, s.ModelName)
	b = appendBool(b, 2, s.RulesEnabled)
	b = appendBool(b, 3, s.SupportsParallelToolCalls)
	b = appendBool(b, 4, s.PlanningEnabled)
	for _, tool := range s.SupportedTools {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(tool))
	}
	return b
}

func (m *Metadata) marshal() []byte {
	return appendString(nil, 1, m.ConversationID)
}

// Marshal encodes the event into its wire form. Only tests and fixtures
// need this direction; production traffic decodes events.
func (e *ResponseEvent) Marshal() []byte {
	var b []byte
	switch {
	case e.Init != nil:
		b = appendMessage(b, 1, e.Init.marshal())
	case e.ClientActions != nil:
		b = appendMessage(b, 2, e.ClientActions.marshal())
	case e.Finished != nil:
		b = appendMessage(b, 3, e.Finished.marshal())
	}
	return b
}

func (i *InitEvent) marshal() []byte {
	var b []byte
	b = appendString(b, 1, i.ConversationID)
	b = appendString(b, 2, i.RequestID)
	return b
}

func (c *ClientActions) marshal() []byte {
	var b []byte
	for _, a := range c.Actions {
		b = appendMessage(b, 1, a.marshal())
	}
	return b
}

func (a *ClientAction) marshal() []byte {
	var b []byte
	switch {
	case a.AppendToMessageContent != nil:
		var inner []byte
		if a.AppendToMessageContent.Message != nil {
			inner = appendMessage(inner, 1, a.AppendToMessageContent.Message.marshal())
		}
		b = appendMessage(b, 1, inner)
	case a.AddMessagesToTask != nil:
		var inner []byte
		for _, m := range a.AddMessagesToTask.Messages {
			inner = appendMessage(inner, 1, m.marshal())
		}
		inner = appendString(inner, 2, a.AddMessagesToTask.TaskID)
		b = appendMessage(b, 2, inner)
	case a.UpdateTaskMessage != nil:
		var inner []byte
		if a.UpdateTaskMessage.Message != nil {
			inner = appendMessage(inner, 1, a.UpdateTaskMessage.Message.marshal())
		}
		b = appendMessage(b, 3, inner)
	case a.CreateTask != nil:
		var inner []byte
		if a.CreateTask.Task != nil {
			inner = appendMessage(inner, 1, a.CreateTask.Task.marshal())
		}
		b = appendMessage(b, 4, inner)
	case a.UpdateTaskStatus != nil:
		var inner []byte
		inner = appendString(inner, 1, a.UpdateTaskStatus.TaskID)
		inner = appendInt(inner, 2, int64(a.UpdateTaskStatus.Status))
		b = appendMessage(b, 5, inner)
	}
	return b
}

func (f *Finished) marshal() []byte {
	var b []byte
	b = appendInt(b, 1, int64(f.Reason))
	for _, u := range f.TokenUsage {
		b = appendMessage(b, 2, u.marshal())
	}
	return b
}

func (u *TokenUsage) marshal() []byte {
	var b []byte
	b = appendInt(b, 1, u.InputTokens)
	b = appendInt(b, 2, u.OutputTokens)
	b = appendInt(b, 3, u.CacheReadTokens)
	b = appendInt(b, 4, u.CacheCreationTokens)
	return b
}

// ---- decoding ----

// walkFields iterates the top-level fields of a serialized message. Varint
// fields pass their value, length-delimited fields their payload. Unknown
// wire types and unknown field numbers are skipped by the callers.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, varint uint64, payload []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "consume tag")
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consume varint")
			}
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consume bytes")
			}
			if err := fn(num, typ, 0, v); err != nil {
				return err
			}
			data = data[n:]
		case protowire.Fixed32Type:
			_, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consume fixed32")
			}
			data = data[n:]
		case protowire.Fixed64Type:
			_, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "consume fixed64")
			}
			data = data[n:]
		default:
			return errors.Errorf("unsupported wire type %d", typ)
		}
	}
	return nil
}

// UnmarshalResponseEvent decodes one ResponseEvent from its wire form.
func UnmarshalResponseEvent(data []byte) (*ResponseEvent, error) {
	event := &ResponseEvent{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			init := &InitEvent{}
			if err := init.unmarshal(payload); err != nil {
				return err
			}
			event.Init = init
		case 2:
			actions := &ClientActions{}
			if err := actions.unmarshal(payload); err != nil {
				return err
			}
			event.ClientActions = actions
		case 3:
			finished := &Finished{}
			if err := finished.unmarshal(payload); err != nil {
				return err
			}
			event.Finished = finished
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal response event")
	}
	if event.Init == nil && event.ClientActions == nil && event.Finished == nil {
		return nil, errors.Errorf("response event carries no known payload")
	}
	return event, nil
}

func (i *InitEvent) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			i.ConversationID = string(payload)
		case 2:
			i.RequestID = string(payload)
		}
		return nil
	})
}

func (c *ClientActions) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType || num != 1 {
			return nil
		}
		action := &ClientAction{}
		if err := action.unmarshal(payload); err != nil {
			return err
		}
		c.Actions = append(c.Actions, action)
		return nil
	})
}

func (a *ClientAction) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			out := &AppendToMessageContent{}
			err := walkFields(payload, func(n protowire.Number, t protowire.Type, _ uint64, p []byte) error {
				if t == protowire.BytesType && n == 1 {
					msg := &TaskMessage{}
					if err := msg.unmarshal(p); err != nil {
						return err
					}
					out.Message = msg
				}
				return nil
			})
			if err != nil {
				return err
			}
			a.AppendToMessageContent = out
		case 2:
			out := &AddMessagesToTask{}
			err := walkFields(payload, func(n protowire.Number, t protowire.Type, _ uint64, p []byte) error {
				if t != protowire.BytesType {
					return nil
				}
				switch n {
				case 1:
					msg := &TaskMessage{}
					if err := msg.unmarshal(p); err != nil {
						return err
					}
					out.Messages = append(out.Messages, msg)
				case 2:
					out.TaskID = string(p)
				}
				return nil
			})
			if err != nil {
				return err
			}
			a.AddMessagesToTask = out
		case 3:
			out := &UpdateTaskMessage{}
			err := walkFields(payload, func(n protowire.Number, t protowire.Type, _ uint64, p []byte) error {
				if t == protowire.BytesType && n == 1 {
					msg := &TaskMessage{}
					if err := msg.unmarshal(p); err != nil {
						return err
					}
					out.Message = msg
				}
				return nil
			})
			if err != nil {
				return err
			}
			a.UpdateTaskMessage = out
		case 4:
			out := &CreateTask{}
			err := walkFields(payload, func(n protowire.Number, t protowire.Type, _ uint64, p []byte) error {
				if t == protowire.BytesType && n == 1 {
					task := &Task{}
					if err := task.unmarshal(p); err != nil {
						return err
					}
					out.Task = task
				}
				return nil
			})
			if err != nil {
				return err
			}
			a.CreateTask = out
		case 5:
			out := &UpdateTaskStatus{}
			err := walkFields(payload, func(n protowire.Number, t protowire.Type, v uint64, p []byte) error {
				switch {
				case t == protowire.BytesType && n == 1:
					out.TaskID = string(p)
				case t == protowire.VarintType && n == 2:
					out.Status = int(v)
				}
				return nil
			})
			if err != nil {
				return err
			}
			a.UpdateTaskStatus = out
		}
		return nil
	})
}

func (t *Task) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, varint uint64, payload []byte) error {
		switch {
		case typ == protowire.BytesType && num == 1:
			t.ID = string(payload)
		case typ == protowire.BytesType && num == 2:
			t.Description = string(payload)
		case typ == protowire.VarintType && num == 3:
			t.Status = int(varint)
		case typ == protowire.BytesType && num == 4:
			msg := &TaskMessage{}
			if err := msg.unmarshal(payload); err != nil {
				return err
			}
			t.Messages = append(t.Messages, msg)
		case typ == protowire.BytesType && num == 5:
			t.Summary = string(payload)
		}
		return nil
	})
}

func (m *TaskMessage) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			m.ID = string(payload)
		case 2:
			q := &UserQuery{}
			if err := q.unmarshal(payload); err != nil {
				return err
			}
			m.UserQuery = q
		case 3:
			r := &ToolCallResult{}
			if err := r.unmarshal(payload); err != nil {
				return err
			}
			m.ToolCallResult = r
		case 4:
			o := &AgentOutput{}
			if err := o.unmarshal(payload); err != nil {
				return err
			}
			m.AgentOutput = o
		case 5:
			c := &ToolCall{}
			if err := c.unmarshal(payload); err != nil {
				return err
			}
			m.ToolCall = c
		}
		return nil
	})
}

func (q *UserQuery) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			q.Query = string(payload)
		case 2:
			q.Context = string(payload)
		}
		return nil
	})
}

func (o *AgentOutput) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			o.Text = string(payload)
		case 2:
			o.Reasoning = string(payload)
		}
		return nil
	})
}

func (c *ToolCall) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			c.ToolCallID = string(payload)
		case 2:
			cmd := &RunShellCommand{}
			if err := cmd.unmarshal(payload); err != nil {
				return err
			}
			c.RunShellCommand = cmd
		case 3:
			rf := &ReadFiles{}
			if err := rf.unmarshal(payload); err != nil {
				return err
			}
			c.ReadFiles = rf
		case 4:
			ad := &ApplyFileDiffs{}
			if err := ad.unmarshal(payload); err != nil {
				return err
			}
			c.ApplyFileDiffs = ad
		case 5:
			g := &Grep{}
			if err := g.unmarshal(payload); err != nil {
				return err
			}
			c.Grep = g
		case 6:
			g := &FileGlobV2{}
			if err := g.unmarshal(payload); err != nil {
				return err
			}
			c.FileGlobV2 = g
		case 7:
			mcp := &CallMCPTool{}
			if err := mcp.unmarshal(payload); err != nil {
				return err
			}
			c.CallMCPTool = mcp
		}
		return nil
	})
}

func (c *RunShellCommand) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, varint uint64, payload []byte) error {
		switch {
		case typ == protowire.BytesType && num == 1:
			c.Command = string(payload)
		case typ == protowire.VarintType && num == 2:
			c.IsReadOnly = varint != 0
		case typ == protowire.VarintType && num == 3:
			c.IsRisky = varint != 0
		case typ == protowire.VarintType && num == 4:
			c.UsesPager = varint != 0
		}
		return nil
	})
}

func (r *ReadFiles) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType || num != 1 {
			return nil
		}
		f := &ReadFile{}
		if err := f.unmarshal(payload); err != nil {
			return err
		}
		r.Files = append(r.Files, f)
		return nil
	})
}

func (f *ReadFile) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			f.Name = string(payload)
		case 2:
			lr := &LineRange{}
			if err := lr.unmarshal(payload); err != nil {
				return err
			}
			f.LineRanges = append(f.LineRanges, lr)
		}
		return nil
	})
}

func (l *LineRange) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, varint uint64, _ []byte) error {
		if typ != protowire.VarintType {
			return nil
		}
		switch num {
		case 1:
			l.Start = int64(varint)
		case 2:
			l.End = int64(varint)
		}
		return nil
	})
}

func (a *ApplyFileDiffs) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			d := &FileDiff{}
			if err := d.unmarshal(payload); err != nil {
				return err
			}
			a.Diffs = append(a.Diffs, d)
		case 2:
			f := &NewFile{}
			if err := f.unmarshal(payload); err != nil {
				return err
			}
			a.NewFiles = append(a.NewFiles, f)
		}
		return nil
	})
}

func (d *FileDiff) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			d.FilePath = string(payload)
		case 2:
			d.Search = string(payload)
		case 3:
			d.Replace = string(payload)
		}
		return nil
	})
}

func (f *NewFile) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			f.FilePath = string(payload)
		case 2:
			f.Content = string(payload)
		}
		return nil
	})
}

func (g *Grep) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			g.Queries = append(g.Queries, string(payload))
		case 2:
			g.Path = string(payload)
		}
		return nil
	})
}

func (g *FileGlobV2) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, varint uint64, payload []byte) error {
		switch {
		case typ == protowire.BytesType && num == 1:
			g.Patterns = append(g.Patterns, string(payload))
		case typ == protowire.BytesType && num == 2:
			g.SearchDir = string(payload)
		case typ == protowire.VarintType && num == 3:
			g.MaxMatches = int64(varint)
		case typ == protowire.VarintType && num == 4:
			g.MaxDepth = int64(varint)
		case typ == protowire.VarintType && num == 5:
			g.MinDepth = int64(varint)
		}
		return nil
	})
}

func (c *CallMCPTool) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			c.Name = string(payload)
		case 2:
			c.Args = string(payload)
		}
		return nil
	})
}

func (r *ToolCallResult) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			r.ToolCallID = string(payload)
		case 2:
			res := &ToolResult{}
			if err := res.unmarshal(payload); err != nil {
				return err
			}
			r.Shell = res
		case 3:
			res := &ToolResult{}
			if err := res.unmarshal(payload); err != nil {
				return err
			}
			r.Files = res
		case 4:
			res := &ToolResult{}
			if err := res.unmarshal(payload); err != nil {
				return err
			}
			r.MCP = res
		}
		return nil
	})
}

func (r *ToolResult) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			r.Success = string(payload)
		case 2:
			r.Error = string(payload)
		}
		return nil
	})
}

func (f *Finished) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, varint uint64, payload []byte) error {
		switch {
		case typ == protowire.VarintType && num == 1:
			f.Reason = int(varint)
		case typ == protowire.BytesType && num == 2:
			u := &TokenUsage{}
			if err := u.unmarshal(payload); err != nil {
				return err
			}
			f.TokenUsage = append(f.TokenUsage, u)
		}
		return nil
	})
}

func (u *TokenUsage) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, varint uint64, _ []byte) error {
		if typ != protowire.VarintType {
			return nil
		}
		switch num {
		case 1:
			u.InputTokens = int64(varint)
		case 2:
			u.OutputTokens = int64(varint)
		case 3:
			u.CacheReadTokens = int64(varint)
		case 4:
			u.CacheCreationTokens = int64(varint)
		}
		return nil
	})
}

// UnmarshalRequest decodes a Request; fixtures and tests use it to verify
// the encode side round-trips.
func UnmarshalRequest(data []byte) (*Request, error) {
	request := &Request{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			tc := &TaskContext{}
			if err := tc.unmarshal(payload); err != nil {
				return err
			}
			request.TaskContext = tc
		case 2:
			in := &Input{}
			if err := in.unmarshal(payload); err != nil {
				return err
			}
			request.Input = in
		case 3:
			s := &Settings{}
			if err := s.unmarshal(payload); err != nil {
				return err
			}
			request.Settings = s
		case 4:
			m := &Metadata{}
			if err := m.unmarshal(payload); err != nil {
				return err
			}
			request.Metadata = m
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal request")
	}
	return request, nil
}

func (t *TaskContext) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			task := &Task{}
			if err := task.unmarshal(payload); err != nil {
				return err
			}
			t.Tasks = append(t.Tasks, task)
		case 2:
			t.ActiveTaskID = string(payload)
		}
		return nil
	})
}

func (i *Input) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			c := &InputContext{}
			if err := c.unmarshal(payload); err != nil {
				return err
			}
			i.Context = c
		case 2:
			u := &UserInputs{}
			if err := u.unmarshal(payload); err != nil {
				return err
			}
			i.UserInputs = u
		}
		return nil
	})
}

func (c *InputContext) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			d := &Directory{}
			if err := d.unmarshal(payload); err != nil {
				return err
			}
			c.Directory = d
		case 2:
			o := &OperatingSystem{}
			if err := o.unmarshal(payload); err != nil {
				return err
			}
			c.OperatingSystem = o
		case 3:
			s := &ShellInfo{}
			if err := s.unmarshal(payload); err != nil {
				return err
			}
			c.Shell = s
		case 4:
			ts := &Timestamp{}
			if err := ts.unmarshal(payload); err != nil {
				return err
			}
			c.CurrentTime = ts
		case 5:
			rule := &ProjectRule{}
			if err := rule.unmarshal(payload); err != nil {
				return err
			}
			c.ProjectRules = append(c.ProjectRules, rule)
		}
		return nil
	})
}

func (d *Directory) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			d.Pwd = string(payload)
		case 2:
			d.Home = string(payload)
		}
		return nil
	})
}

func (o *OperatingSystem) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ == protowire.BytesType && num == 1 {
			o.Platform = string(payload)
		}
		return nil
	})
}

func (s *ShellInfo) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			s.Name = string(payload)
		case 2:
			s.Version = string(payload)
		}
		return nil
	})
}

func (t *Timestamp) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, varint uint64, _ []byte) error {
		if typ != protowire.VarintType {
			return nil
		}
		switch num {
		case 1:
			t.Seconds = int64(varint)
		case 2:
			t.Nanos = int32(varint)
		}
		return nil
	})
}

func (p *ProjectRule) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			p.RootPath = string(payload)
		case 2:
			f := &RuleFile{}
			if err := f.unmarshal(payload); err != nil {
				return err
			}
			p.ActiveRuleFiles = append(p.ActiveRuleFiles, f)
		}
		return nil
	})
}

func (f *RuleFile) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			f.FilePath = string(payload)
		case 2:
			f.Content = string(payload)
		}
		return nil
	})
}

func (u *UserInputs) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType || num != 1 {
			return nil
		}
		in := &UserInput{}
		if err := in.unmarshal(payload); err != nil {
			return err
		}
		u.Inputs = append(u.Inputs, in)
		return nil
	})
}

func (u *UserInput) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case 1:
			q := &UserQuery{}
			if err := q.unmarshal(payload); err != nil {
				return err
			}
			u.UserQuery = q
		case 2:
			r := &ToolCallResult{}
			if err := r.unmarshal(payload); err != nil {
				return err
			}
			u.ToolCallResult = r
		}
		return nil
	})
}

func (s *Settings) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, varint uint64, payload []byte) error {
		switch {
		case typ == protowire.BytesType && num == 1:
			s.ModelName = string(payload)
		case typ == protowire.VarintType && num == 2:
			s.RulesEnabled = varint != 0
		case typ == protowire.VarintType && num == 3:
			s.SupportsParallelToolCalls = varint != 0
		case typ == protowire.VarintType && num == 4:
			s.PlanningEnabled = varint != 0
		case typ == protowire.VarintType && num == 5:
			s.SupportedTools = append(s.SupportedTools, int(varint))
		}
		return nil
	})
}

func (m *Metadata) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, _ uint64, payload []byte) error {
		if typ == protowire.BytesType && num == 1 {
			m.ConversationID = string(payload)
		}
		return nil
	})
}
