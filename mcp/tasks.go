// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Task-augmented requests, from the draft revision of the MCP spec.
//
// A receiver that supports task augmentation for a request executes the
// request asynchronously, immediately returning a task handle. The caller
// polls or awaits the task through the tasks/* methods.

package mcp

import (
	"context"
	"fmt"
)

const (
	methodCancelTask       = "tasks/cancel"
	methodGetTask          = "tasks/get"
	methodListTasks        = "tasks/list"
	methodTaskResult       = "tasks/result"
	notificationTaskStatus = "notifications/tasks/status"
)

// Task statuses. Working, input_required, completed, failed and cancelled are
// the only statuses defined by the spec; completed, failed and cancelled are
// terminal.
const (
	TaskStatusWorking       = "working"
	TaskStatusInputRequired = "input_required"
	TaskStatusCompleted     = "completed"
	TaskStatusFailed        = "failed"
	TaskStatusCancelled     = "cancelled"
)

// Tool execution taskSupport values.
const (
	ToolTaskSupportForbidden = "forbidden"
	ToolTaskSupportOptional  = "optional"
	ToolTaskSupportRequired  = "required"
)

// ToolExecution describes how a tool may be executed.
type ToolExecution struct {
	// TaskSupport indicates whether the tool supports task-augmented
	// execution: one of "forbidden" (the default), "optional" or "required".
	TaskSupport string `json:"taskSupport,omitempty"`
}

// TaskParams augments a request with task metadata. Its presence in a
// request's params asks the receiver to execute the request as a task.
type TaskParams struct {
	// TTL is the requested duration, in milliseconds, to retain the task
	// after creation.
	TTL *int64 `json:"ttl,omitempty"`
}

// taskAugmentable is implemented by params types whose requests may be
// task-augmented.
type taskAugmentable interface {
	taskParams() *TaskParams
}

func (x *CallToolParams) taskParams() *TaskParams { return x.Task }

// A Task is the receiver's record of a task-augmented request.
type Task struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// TaskID is the unique identifier for the task.
	TaskID string `json:"taskId"`
	// Status is the current status of the task.
	Status string `json:"status"`
	// StatusMessage optionally describes the current status in human-readable
	// form. For failed tasks, it should describe the failure.
	StatusMessage string `json:"statusMessage,omitempty"`
	// CreatedAt is the RFC 3339 timestamp of the task's creation.
	CreatedAt string `json:"createdAt"`
	// LastUpdatedAt is the RFC 3339 timestamp of the last status change.
	LastUpdatedAt string `json:"lastUpdatedAt"`
	// TTL is the duration, in milliseconds, for which the task is retained
	// after creation. A null TTL means the task is retained indefinitely.
	TTL *int64 `json:"ttl"`
}

// CreateTaskResult is the result of a task-augmented request: a handle to the
// created task.
type CreateTaskResult struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// Task describes the created task.
	Task *Task `json:"task"`
}

func (*CreateTaskResult) isResult() {}

// GetTaskParams are the parameters for a tasks/get request.
type GetTaskParams struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// TaskID identifies the task.
	TaskID string `json:"taskId"`
}

func (x *GetTaskParams) isParams()              {}
func (x *GetTaskParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *GetTaskParams) SetProgressToken(t any) { setProgressToken(x, t) }

// GetTaskResult is the result of a tasks/get request.
//
// Its fields are those of [Task].
type GetTaskResult struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// TaskID is the unique identifier for the task.
	TaskID string `json:"taskId"`
	// Status is the current status of the task.
	Status string `json:"status"`
	// StatusMessage optionally describes the current status in human-readable
	// form. For failed tasks, it should describe the failure.
	StatusMessage string `json:"statusMessage,omitempty"`
	// CreatedAt is the RFC 3339 timestamp of the task's creation.
	CreatedAt string `json:"createdAt"`
	// LastUpdatedAt is the RFC 3339 timestamp of the last status change.
	LastUpdatedAt string `json:"lastUpdatedAt"`
	// TTL is the duration, in milliseconds, for which the task is retained
	// after creation. A null TTL means the task is retained indefinitely.
	TTL *int64 `json:"ttl"`
}

func (*GetTaskResult) isResult() {}

// ListTasksParams are the parameters for a tasks/list request.
type ListTasksParams struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// An opaque token representing the current pagination position. If
	// provided, the server should return results starting after this cursor.
	Cursor string `json:"cursor,omitempty"`
}

func (x *ListTasksParams) isParams()              {}
func (x *ListTasksParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *ListTasksParams) SetProgressToken(t any) { setProgressToken(x, t) }

func (x *ListTasksParams) cursorPtr() *string { return &x.Cursor }

// ListTasksResult is the result of a tasks/list request.
type ListTasksResult struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// An opaque token representing the pagination position after the last
	// returned result. If present, there may be more results available.
	NextCursor string `json:"nextCursor,omitempty"`
	// Tasks holds the current page of tasks.
	Tasks []*Task `json:"tasks"`
}

func (*ListTasksResult) isResult() {}

func (x *ListTasksResult) nextCursorPtr() *string { return &x.NextCursor }

// CancelTaskParams are the parameters for a tasks/cancel request.
type CancelTaskParams struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// TaskID identifies the task.
	TaskID string `json:"taskId"`
}

func (x *CancelTaskParams) isParams()              {}
func (x *CancelTaskParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *CancelTaskParams) SetProgressToken(t any) { setProgressToken(x, t) }

// CancelTaskResult is the result of a tasks/cancel request.
//
// Its fields are those of [Task].
type CancelTaskResult struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// TaskID is the unique identifier for the task.
	TaskID string `json:"taskId"`
	// Status is the current status of the task.
	Status string `json:"status"`
	// StatusMessage optionally describes the current status in human-readable
	// form. For failed tasks, it should describe the failure.
	StatusMessage string `json:"statusMessage,omitempty"`
	// CreatedAt is the RFC 3339 timestamp of the task's creation.
	CreatedAt string `json:"createdAt"`
	// LastUpdatedAt is the RFC 3339 timestamp of the last status change.
	LastUpdatedAt string `json:"lastUpdatedAt"`
	// TTL is the duration, in milliseconds, for which the task is retained
	// after creation. A null TTL means the task is retained indefinitely.
	TTL *int64 `json:"ttl"`
}

func (*CancelTaskResult) isResult() {}

// TaskResultParams are the parameters for a tasks/result request.
type TaskResultParams struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// TaskID identifies the task.
	TaskID string `json:"taskId"`
}

func (x *TaskResultParams) isParams()              {}
func (x *TaskResultParams) GetProgressToken() any  { return getProgressToken(x) }
func (x *TaskResultParams) SetProgressToken(t any) { setProgressToken(x, t) }

// TaskStatusNotificationParams are the parameters for a
// notifications/tasks/status notification, sent by the receiver whenever a
// task's status changes.
//
// Its fields are those of [Task].
type TaskStatusNotificationParams struct {
	// This property is reserved by the protocol to allow clients and servers to
	// attach additional metadata to their responses.
	Meta `json:"_meta,omitempty"`
	// TaskID is the unique identifier for the task.
	TaskID string `json:"taskId"`
	// Status is the current status of the task.
	Status string `json:"status"`
	// StatusMessage optionally describes the current status in human-readable
	// form. For failed tasks, it should describe the failure.
	StatusMessage string `json:"statusMessage,omitempty"`
	// CreatedAt is the RFC 3339 timestamp of the task's creation.
	CreatedAt string `json:"createdAt"`
	// LastUpdatedAt is the RFC 3339 timestamp of the last status change.
	LastUpdatedAt string `json:"lastUpdatedAt"`
	// TTL is the duration, in milliseconds, for which the task is retained
	// after creation. A null TTL means the task is retained indefinitely.
	TTL *int64 `json:"ttl"`
}

func (x *TaskStatusNotificationParams) isParams() {}

// TasksCapabilities describes a server's support for tasks.
type TasksCapabilities struct {
	// List is present if the server supports tasks/list.
	List *TasksListCapabilities `json:"list,omitempty"`
	// Cancel is present if the server supports tasks/cancel.
	Cancel *TasksCancelCapabilities `json:"cancel,omitempty"`
	// Requests describes which requests may be task-augmented.
	Requests *TasksRequestsCapabilities `json:"requests,omitempty"`
}

// TasksListCapabilities describes support for tasks/list.
type TasksListCapabilities struct{}

// TasksCancelCapabilities describes support for tasks/cancel.
type TasksCancelCapabilities struct{}

// TasksRequestsCapabilities describes which requests may be task-augmented,
// by method.
type TasksRequestsCapabilities struct {
	// Tools describes task augmentation for tools requests.
	Tools *TasksToolsRequestCapabilities `json:"tools,omitempty"`
}

// TasksToolsRequestCapabilities describes task augmentation for tools
// requests.
type TasksToolsRequestCapabilities struct {
	// Call is present if tools/call requests may be task-augmented.
	Call *TasksToolsCallCapabilities `json:"call,omitempty"`
}

// TasksToolsCallCapabilities describes task augmentation for tools/call.
type TasksToolsCallCapabilities struct{}

func (c *TasksCapabilities) clone() *TasksCapabilities {
	if c == nil {
		return nil
	}
	cp := *c
	cp.List = shallowClone(c.List)
	cp.Cancel = shallowClone(c.Cancel)
	if c.Requests != nil {
		r := *c.Requests
		if r.Tools != nil {
			t := *r.Tools
			t.Call = shallowClone(t.Call)
			r.Tools = &t
		}
		cp.Requests = &r
	}
	return &cp
}

// CallToolTask requests task-augmented execution of a tool.
//
// The returned [CreateTaskResult] holds a handle to the created task; the
// tool result itself is retrieved with [ClientSession.TaskResult].
func (cs *ClientSession) CallToolTask(ctx context.Context, params *CallToolParams) (*CreateTaskResult, error) {
	if params == nil || params.Task == nil {
		return nil, fmt.Errorf("CallToolTask: params.Task must be set")
	}
	return handleSend[*CreateTaskResult](ctx, methodCallTool, newClientRequest(cs, params))
}

// GetTask polls the status of a task.
func (cs *ClientSession) GetTask(ctx context.Context, params *GetTaskParams) (*GetTaskResult, error) {
	return handleSend[*GetTaskResult](ctx, methodGetTask, newClientRequest(cs, orZero(params)))
}

// ListTasks lists the tasks created by this session.
func (cs *ClientSession) ListTasks(ctx context.Context, params *ListTasksParams) (*ListTasksResult, error) {
	return handleSend[*ListTasksResult](ctx, methodListTasks, newClientRequest(cs, orZero(params)))
}

// CancelTask requests cancellation of a task. It fails if the task is already
// in a terminal status.
func (cs *ClientSession) CancelTask(ctx context.Context, params *CancelTaskParams) (*CancelTaskResult, error) {
	return handleSend[*CancelTaskResult](ctx, methodCancelTask, newClientRequest(cs, orZero(params)))
}

// TaskResult retrieves the result of a completed task, blocking until the
// task reaches a terminal status.
//
// For a task created by [ClientSession.CallToolTask], the result is the
// tool's [CallToolResult].
func (cs *ClientSession) TaskResult(ctx context.Context, params *TaskResultParams) (*CallToolResult, error) {
	return handleSend[*CallToolResult](ctx, methodTaskResult, newClientRequest(cs, orZero(params)))
}
