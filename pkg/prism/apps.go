package prism

import (
	"context"
	"fmt"
	"net/url"
)

const (
	actionAPIVersion = "3.0"
	kindApp          = "app"
	targetKindApp    = "Application"
)

// ListApps returns all managed application instances.
func (c *Client) ListApps(ctx context.Context) ([]App, int, error) {
	var list entityList[App]
	status, err := c.post(ctx, "list-apps", V3, "apps/list", struct{}{}, &list)
	if err != nil {
		return nil, status, err
	}
	return list.Entities, status, nil
}

// GetApp returns the detail record of one application, including its actions.
func (c *Client) GetApp(ctx context.Context, uuid string) (*App, int, error) {
	if uuid == "" {
		return nil, 0, fmt.Errorf("get-app: uuid is required")
	}
	var app App
	status, err := c.get(ctx, "get-app", V3, "apps/"+url.PathEscape(uuid), &app)
	if err != nil {
		return nil, status, err
	}
	return &app, status, nil
}

// RunAppAction invokes actionUUID on app. It returns once the API has
// accepted the request; the action itself runs asynchronously.
func (c *Client) RunAppAction(ctx context.Context, app *App, actionUUID string) (*ActionRun, int, error) {
	if app == nil || app.Metadata.UUID == "" {
		return nil, 0, fmt.Errorf("run-app-action: application uuid is required")
	}
	if actionUUID == "" {
		return nil, 0, fmt.Errorf("run-app-action: action uuid is required")
	}

	req := NewActionRunRequest(app)
	path := fmt.Sprintf("apps/%s/actions/%s/run", url.PathEscape(app.Metadata.UUID), url.PathEscape(actionUUID))

	var run ActionRun
	status, err := c.post(ctx, "run-app-action", V3, path, req, &run)
	if err != nil {
		return nil, status, err
	}
	return &run, status, nil
}

// NewActionRunRequest builds the fixed action payload for app: its metadata,
// a target reference to itself and no arguments.
func NewActionRunRequest(app *App) ActionRunRequest {
	md := app.Metadata
	if md.Kind == "" {
		md.Kind = kindApp
	}
	return ActionRunRequest{
		APIVersion: actionAPIVersion,
		Metadata:   md,
		Spec: ActionRunSpec{
			TargetUUID: app.Metadata.UUID,
			TargetKind: targetKindApp,
			Args:       []ActionArg{},
		},
	}
}
